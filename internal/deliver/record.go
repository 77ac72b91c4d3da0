// Package deliver pushes transcription results to a downstream sink with
// retries, exponential backoff, and a hand-off to persistent storage for
// results that exhaust their attempts.
package deliver

import (
	"time"

	"github.com/google/uuid"

	"github.com/quietriver/earshot/internal/transcribe"
)

// Status is the delivery lifecycle state of a record.
type Status string

const (
	// StatusPending means delivery has not succeeded yet.
	StatusPending Status = "pending"

	// StatusDelivered means the sink accepted the record. Terminal.
	StatusDelivered Status = "delivered"

	// StatusAbandoned means all attempts failed and the record was handed
	// to the pending store. Terminal.
	StatusAbandoned Status = "abandoned"
)

// Record tracks one transcription result through delivery.
type Record struct {
	// ID uniquely identifies the record across restarts.
	ID string `json:"id"`

	// Result is the transcription being delivered.
	Result transcribe.Result `json:"result"`

	// Attempts counts delivery attempts made so far.
	Attempts int `json:"attempts"`

	// LastAttempt is when the most recent attempt finished.
	LastAttempt time.Time `json:"last_attempt,omitzero"`

	// LastError annotates the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`
}

// NewRecord wraps a transcription result in a fresh pending Record.
func NewRecord(res transcribe.Result) *Record {
	return &Record{
		ID:     uuid.NewString(),
		Result: res,
		Status: StatusPending,
	}
}

// Terminal reports whether the record reached a final state.
func (r *Record) Terminal() bool {
	return r.Status == StatusDelivered || r.Status == StatusAbandoned
}
