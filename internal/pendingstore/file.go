package pendingstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/quietriver/earshot/internal/deliver"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists records as append-only JSON lines in a local file.
// Later lines for the same record ID supersede earlier ones, so updates are
// plain appends and the file needs no rewriting. Thread-safe for concurrent
// use within one process.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path. The file
// is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// tombstone marks a record as removed in the append-only log.
const tombstone deliver.Status = "deleted"

// Save appends the current state of rec to the file.
func (fs *FileStore) Save(_ context.Context, rec *deliver.Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.append(rec)
}

func (fs *FileStore) append(rec *deliver.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("pendingstore: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pendingstore: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("pendingstore: write: %w", err)
	}
	return nil
}

// load replays the file and returns the latest state per record ID.
func (fs *FileStore) load() (map[string]*deliver.Record, error) {
	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*deliver.Record{}, nil
		}
		return nil, fmt.Errorf("pendingstore: open file: %w", err)
	}
	defer f.Close()

	latest := make(map[string]*deliver.Record)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec deliver.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("pendingstore: corrupt line: %w", err)
		}
		if rec.Status == tombstone {
			delete(latest, rec.ID)
			continue
		}
		latest[rec.ID] = &rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pendingstore: read: %w", err)
	}
	return latest, nil
}

// Get returns the latest stored state for id.
func (fs *FileStore) Get(_ context.Context, id string) (*deliver.Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	latest, err := fs.load()
	if err != nil {
		return nil, err
	}
	rec, ok := latest[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns all records not yet marked delivered, oldest first by last
// attempt time.
func (fs *FileStore) List(_ context.Context) ([]*deliver.Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	latest, err := fs.load()
	if err != nil {
		return nil, err
	}
	out := make([]*deliver.Record, 0, len(latest))
	for _, rec := range latest {
		if rec.Status == deliver.StatusDelivered {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAttempt.Before(out[j].LastAttempt)
	})
	return out, nil
}

// MarkDelivered appends a delivered state for the record under id.
func (fs *FileStore) MarkDelivered(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	latest, err := fs.load()
	if err != nil {
		return err
	}
	rec, ok := latest[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = deliver.StatusDelivered
	return fs.append(rec)
}

// Delete appends a tombstone for the record under id; load skips everything
// before it.
func (fs *FileStore) Delete(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	latest, err := fs.load()
	if err != nil {
		return err
	}
	if _, ok := latest[id]; !ok {
		return ErrNotFound
	}
	return fs.append(&deliver.Record{ID: id, Status: tombstone})
}

// Close is a no-op for the file backend.
func (fs *FileStore) Close() error { return nil }
