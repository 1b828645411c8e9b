package snapshot

import (
	"testing"

	"loam/heap"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	regions := []heap.RegionInfo{
		{ID: 1, SizeClass: 2, BlockSize: 32, Generation: heap.Young, State: "active", LiveBytes: 256, Capacity: 2048},
		{ID: 9, SizeClass: -1, BlockSize: 8192, Generation: heap.Old, State: "retired", LiveBytes: 8192, Capacity: 8192},
	}
	if err := w.Write(42, regions); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s == nil {
		t.Fatal("snapshot missing after write")
	}
	if s.Seq != 42 || len(s.Regions) != 2 {
		t.Fatalf("snapshot seq=%d regions=%d", s.Seq, len(s.Regions))
	}
	if s.Regions[1].SizeClass != -1 || s.Regions[1].State != "retired" {
		t.Fatalf("large region entry mangled: %+v", s.Regions[1])
	}
	if s.Regions[0].Generation != uint8(heap.Young) {
		t.Fatalf("generation mangled: %+v", s.Regions[0])
	}
}

func TestLoadMissingIsNil(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil snapshot, got %+v", s)
	}
}

func TestWriteReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	if err := w.Write(1, nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(2, []heap.RegionInfo{{ID: 3}}); err != nil {
		t.Fatal(err)
	}

	s, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Seq != 2 || len(s.Regions) != 1 {
		t.Fatalf("stale snapshot survived: %+v", s)
	}
}
