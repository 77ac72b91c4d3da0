package pendingstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/quietriver/earshot/internal/deliver"
)

// Compile-time interface check.
var _ Store = (*BadgerStore)(nil)

const badgerKeyPrefix = "pending/"

// BadgerOptions configures the BadgerDB-backed store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Useful for tests
	// that want a real badger engine.
	InMemory bool
}

// BadgerStore persists records in BadgerDB, one key per record ID.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("pendingstore: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerSlogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("pendingstore: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

// Save persists the current state of rec under its ID.
func (s *BadgerStore) Save(_ context.Context, rec *deliver.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("pendingstore: marshal: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.ID), data)
	})
}

// Get returns the record stored under id.
func (s *BadgerStore) Get(_ context.Context, id string) (*deliver.Record, error) {
	var rec deliver.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns all records not yet marked delivered, oldest first by last
// attempt time.
func (s *BadgerStore) List(_ context.Context) ([]*deliver.Record, error) {
	var out []*deliver.Record
	prefix := []byte(badgerKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec deliver.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if rec.Status == deliver.StatusDelivered {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAttempt.Before(out[j].LastAttempt)
	})
	return out, nil
}

// MarkDelivered flips the stored record to delivered.
func (s *BadgerStore) MarkDelivered(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Status = deliver.StatusDelivered
	return s.Save(ctx, rec)
}

// Delete removes the record under id.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			return err
		}
		return txn.Delete(badgerKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerSlogger routes badger's chatter through slog, dropping the noisy
// info and debug levels.
type badgerSlogger struct{}

func (badgerSlogger) Errorf(f string, v ...interface{}) {
	slog.Error(fmt.Sprintf("badger: "+f, v...))
}

func (badgerSlogger) Warningf(f string, v ...interface{}) {
	slog.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (badgerSlogger) Infof(string, ...interface{})  {}
func (badgerSlogger) Debugf(string, ...interface{}) {}
