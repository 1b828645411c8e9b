package census

import (
	"errors"
	"testing"

	"github.com/cockroachdb/pebble"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := Record{
		Kind:           2,
		DurationNanos:  3_000_000,
		PauseNanos:     400_000,
		BytesPromoted:  4096,
		BytesCopied:    8192,
		BytesReclaimed: 1 << 16,
		LiveBytes:      1 << 20,
	}
	if err := s.Put(7, in); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateNew || got.Retries != 0 {
		t.Fatalf("fresh record state %v retries %d", got.State, got.Retries)
	}
	if got.Kind != in.Kind || got.BytesReclaimed != in.BytesReclaimed || got.LiveBytes != in.LiveBytes {
		t.Fatalf("summary fields lost: %+v", got)
	}
}

func TestStateTransitions(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(1, Record{Kind: 1}); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkSent(1); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	rec, _ := s.Get(1)
	if rec.State != StateSent || rec.Retries != 1 {
		t.Fatalf("after send: state %v retries %d", rec.State, rec.Retries)
	}
	if rec.LastAttempt == 0 {
		t.Fatal("last attempt not stamped")
	}

	if err := s.MarkFailed(1); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := s.MarkSent(1); err != nil {
		t.Fatalf("resend: %v", err)
	}
	rec, _ = s.Get(1)
	if rec.Retries != 2 {
		t.Fatalf("retries after resend: %d", rec.Retries)
	}

	if err := s.MarkAcked(1); err != nil {
		t.Fatalf("mark acked: %v", err)
	}
	rec, _ = s.Get(1)
	if rec.State != StateAcked {
		t.Fatalf("after ack: state %v", rec.State)
	}

	if err := s.Delete(1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(1); !errors.Is(err, pebble.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestScanPendingOrderAndFilter(t *testing.T) {
	s := openTestStore(t)

	for seq := uint64(1); seq <= 5; seq++ {
		if err := s.Put(seq, Record{Kind: 1, LiveBytes: seq}); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.MarkSent(2)
	_ = s.MarkAcked(2)
	_ = s.MarkSent(4)
	_ = s.MarkFailed(4)

	var seqs []uint64
	err := s.ScanPending(func(seq uint64, rec Record) error {
		seqs = append(seqs, seq)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []uint64{1, 3, 4, 5}
	if len(seqs) != len(want) {
		t.Fatalf("pending seqs %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("pending seqs %v, want %v", seqs, want)
		}
	}
}

func TestScanByState(t *testing.T) {
	s := openTestStore(t)
	_ = s.Put(1, Record{})
	_ = s.Put(2, Record{})
	_ = s.MarkSent(2)

	count := 0
	if err := s.ScanByState(StateSent, func(seq uint64, rec Record) error {
		if seq != 2 {
			t.Fatalf("unexpected seq %d in SENT scan", seq)
		}
		count++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("SENT scan count %d", count)
	}
}
