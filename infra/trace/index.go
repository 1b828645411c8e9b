package trace

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
)

// indexEntry defines metadata for each sealed trace segment.
type indexEntry struct {
	File      string `json:"file"`
	FirstSeq  uint64 `json:"first_seq"`
	LastSeq   uint64 `json:"last_seq"`
	Timestamp string `json:"timestamp"`
}

func appendIndexEntry(dir string, entry indexEntry) error {
	path := filepath.Join(dir, "trace_index.json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, _ := json.Marshal(entry)
	_, err = f.Write(append(data, '\n'))
	return err
}

func loadAllIndex(dir string) ([]indexEntry, error) {
	path := filepath.Join(dir, "trace_index.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []indexEntry{}, nil
		}
		return nil, err
	}

	lines := bytes.Split(b, []byte("\n"))
	var entries []indexEntry
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var e indexEntry
		if err := json.Unmarshal(line, &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func loadLastIndex(dir string) (*indexEntry, error) {
	index, err := loadAllIndex(dir)
	if err != nil || len(index) == 0 {
		return nil, err
	}
	return &index[len(index)-1], nil
}
