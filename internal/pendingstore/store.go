// Package pendingstore persists delivery records that could not be pushed
// downstream, so a restart or an operator can resend them later. Two
// backends are provided: an append-only JSON lines file for simple setups,
// and BadgerDB for installations with larger backlogs.
package pendingstore

import (
	"context"
	"errors"

	"github.com/quietriver/earshot/internal/deliver"
)

// ErrNotFound is returned when no record exists for the given ID.
var ErrNotFound = errors.New("pendingstore: record not found")

// Store persists and retrieves delivery records awaiting a resend.
type Store interface {
	// Save persists the current state of rec, overwriting any earlier
	// state stored under the same ID.
	Save(ctx context.Context, rec *deliver.Record) error

	// Get returns the record stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) (*deliver.Record, error)

	// List returns all records that still await delivery, i.e. everything
	// not yet marked delivered.
	List(ctx context.Context) ([]*deliver.Record, error)

	// MarkDelivered records that the record under id finally reached the
	// sink. Returns ErrNotFound when the ID is unknown.
	MarkDelivered(ctx context.Context, id string) error

	// Delete removes the record under id, e.g. after a resend superseded
	// it. Returns ErrNotFound when the ID is unknown.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}
