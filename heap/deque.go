package heap

import "sync"

// markDeque is one worker's grey-object queue. The owner pushes and
// pops at the bottom; thieves take from the top, so stolen work is the
// oldest and tends to fan out widest.
type markDeque struct {
	mu  sync.Mutex
	buf []Pointer
}

func (d *markDeque) push(p Pointer) {
	d.mu.Lock()
	d.buf = append(d.buf, p)
	d.mu.Unlock()
}

func (d *markDeque) pop() Pointer {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.buf)
	if n == 0 {
		return Nil
	}
	p := d.buf[n-1]
	d.buf = d.buf[:n-1]
	return p
}

func (d *markDeque) steal() Pointer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buf) == 0 {
		return Nil
	}
	p := d.buf[0]
	d.buf = d.buf[1:]
	return p
}

func (d *markDeque) empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf) == 0
}
