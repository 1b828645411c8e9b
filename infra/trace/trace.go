package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Config defines configuration for a trace log instance.
type Config struct {
	Dir             string
	SegmentSize     uint64
	SegmentDuration time.Duration
	FlushInterval   time.Duration
}

// Log is the public interface collectors write through.
type Log interface {
	Append(*Record) error
	Sync() error
	Close() error
	ReplayFrom(afterSeq uint64, apply func(*Record)) error
}

// New creates a trace log from Config.
func New(cfg Config) (Log, error) {
	if cfg.Dir == "" {
		cfg.Dir = "./trace_data"
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = 2 * 1024 * 1024
	}
	if cfg.SegmentDuration == 0 {
		cfg.SegmentDuration = 5 * time.Minute
	}

	core, err := newCoreLog(cfg)
	if err != nil {
		return nil, fmt.Errorf("create trace log: %w", err)
	}

	l := &log{core: core, cfg: cfg, stop: make(chan struct{})}
	if cfg.FlushInterval > 0 {
		go l.autoFlush()
	}
	return l, nil
}

type log struct {
	mu   sync.Mutex
	core *coreLog
	cfg  Config
	stop chan struct{}
	once sync.Once
}

func (l *log) Append(rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.core.append(rec)
}

func (l *log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.core.sync()
}

func (l *log) Close() error {
	l.once.Do(func() { close(l.stop) })
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.core.close()
}

func (l *log) autoFlush() {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = l.Sync()
		case <-l.stop:
			return
		}
	}
}

// ReplayFrom applies every record with Seq greater than afterSeq, in
// order, across sealed segments and the current one.
func (l *log) ReplayFrom(afterSeq uint64, apply func(*Record)) error {
	if err := l.Sync(); err != nil {
		return err
	}

	index, err := loadAllIndex(l.cfg.Dir)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	sort.Slice(index, func(a, b int) bool {
		return index[a].FirstSeq < index[b].FirstSeq
	})

	for _, seg := range index {
		if seg.LastSeq <= afterSeq {
			continue
		}
		path := filepath.Join(l.cfg.Dir, seg.File)
		if err := replayFile(path, afterSeq, apply); err != nil {
			return err
		}
	}

	current := filepath.Join(l.cfg.Dir, "current.trace")
	if _, err := os.Stat(current); err == nil {
		if err := replayFile(current, afterSeq, apply); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, afterSeq uint64, apply func(*Record)) error {
	r, err := OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	for r.Next() {
		rec := r.Record()
		if rec.Seq <= afterSeq {
			continue
		}
		apply(rec)
	}
	return r.Err()
}
