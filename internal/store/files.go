package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quietriver/earshot/internal/transcribe"
)

// Files appends results to one JSON lines file per calendar day, named
// transcripts-2006-01-02.jsonl under the configured directory. Rotation
// happens implicitly when the date changes. Thread-safe.
type Files struct {
	mu  sync.Mutex
	dir string

	// now is replaceable in tests.
	now func() time.Time
}

// NewFiles creates a Files writer rooted at dir. The directory is created
// if it does not exist.
func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	return &Files{dir: dir, now: time.Now}, nil
}

// Path returns the file a result written at t would land in.
func (f *Files) Path(t time.Time) string {
	return filepath.Join(f.dir, "transcripts-"+t.Format("2006-01-02")+".jsonl")
}

// Append writes res to today's file.
func (f *Files) Append(res transcribe.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	data = append(data, '\n')

	path := f.Path(f.now())
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	return nil
}
