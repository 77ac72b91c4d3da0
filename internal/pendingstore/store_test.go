package pendingstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quietriver/earshot/internal/deliver"
	"github.com/quietriver/earshot/internal/transcribe"
)

func abandonedRecord(seq uint64) *deliver.Record {
	rec := deliver.NewRecord(transcribe.Result{
		Seq:       seq,
		Text:      "lost in transit",
		Engine:    "fake",
		Timestamp: time.Now(),
	})
	rec.Attempts = 3
	rec.LastAttempt = time.Now()
	rec.LastError = "endpoint down"
	rec.Status = deliver.StatusAbandoned
	return rec
}

// stores returns every backend under test, each backed by fresh state.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	badgerStore, err := NewBadgerStore(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	t.Cleanup(func() { badgerStore.Close() })
	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "pending.jsonl")),
		"badger": badgerStore,
	}
}

func TestSaveAndGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := abandonedRecord(1)
			if err := store.Save(ctx, rec); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := store.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ID != rec.ID || got.Result.Seq != 1 || got.Status != deliver.StatusAbandoned {
				t.Fatalf("Get = %+v", got)
			}
			if got.Result.Text != "lost in transit" {
				t.Fatalf("Text = %q", got.Result.Text)
			}
		})
	}
}

func TestGetUnknownID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(context.Background(), "nope"); err != ErrNotFound {
				t.Fatalf("Get: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestListExcludesDelivered(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := abandonedRecord(1)
			second := abandonedRecord(2)
			second.LastAttempt = first.LastAttempt.Add(time.Minute)
			for _, rec := range []*deliver.Record{first, second} {
				if err := store.Save(ctx, rec); err != nil {
					t.Fatalf("Save: %v", err)
				}
			}
			if err := store.MarkDelivered(ctx, first.ID); err != nil {
				t.Fatalf("MarkDelivered: %v", err)
			}

			got, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 1 || got[0].ID != second.ID {
				t.Fatalf("List = %+v, want only the undelivered record", got)
			}
		})
	}
}

func TestListOrderedByLastAttempt(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			newer := abandonedRecord(2)
			older := abandonedRecord(1)
			older.LastAttempt = newer.LastAttempt.Add(-time.Hour)
			// Save newest first to prove List sorts.
			for _, rec := range []*deliver.Record{newer, older} {
				if err := store.Save(ctx, rec); err != nil {
					t.Fatalf("Save: %v", err)
				}
			}

			got, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 2 || got[0].ID != older.ID || got[1].ID != newer.ID {
				t.Fatalf("List order wrong: %+v", got)
			}
		})
	}
}

func TestMarkDeliveredUnknownID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.MarkDelivered(context.Background(), "nope"); err != ErrNotFound {
				t.Fatalf("MarkDelivered: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSaveSupersedesEarlierState(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := abandonedRecord(1)
			if err := store.Save(ctx, rec); err != nil {
				t.Fatalf("Save: %v", err)
			}
			rec.Attempts = 4
			rec.LastError = "still down"
			if err := store.Save(ctx, rec); err != nil {
				t.Fatalf("Save update: %v", err)
			}

			got, err := store.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Attempts != 4 || got.LastError != "still down" {
				t.Fatalf("Get after update = %+v", got)
			}
			list, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 1 {
				t.Fatalf("List returned %d records after update, want 1", len(list))
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pending.jsonl")

	first := NewFileStore(path)
	rec := abandonedRecord(1)
	if err := first.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened := NewFileStore(path)
	got, err := reopened.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Result.Text != "lost in transit" {
		t.Fatalf("Get after reopen = %+v", got)
	}
}
