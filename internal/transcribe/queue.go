// Package transcribe contains the ordered transcription stage of the
// pipeline: a bounded utterance queue, the engine selector with its
// online/offline fallback policy, and the single worker loop that drives
// exactly one recognition call at a time.
package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quietriver/earshot/internal/segment"
)

// OverflowPolicy selects which utterance is shed when the queue is full and
// the enqueue timeout has elapsed.
type OverflowPolicy string

const (
	// DropOldest sheds the oldest unconsumed utterance to make room for
	// the new one. This is the default: fresher audio is usually more
	// valuable than stale backlog.
	DropOldest OverflowPolicy = "drop-oldest"

	// DropNewest sheds the incoming utterance and keeps the backlog.
	DropNewest OverflowPolicy = "drop-newest"
)

// IsValid reports whether p is a recognised overflow policy.
func (p OverflowPolicy) IsValid() bool {
	return p == DropOldest || p == DropNewest
}

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("transcribe: queue closed")

// QueueConfig holds the queue parameters.
type QueueConfig struct {
	// Capacity bounds how many utterances may wait for transcription.
	Capacity int

	// EnqueueTimeout is how long a full queue exerts backpressure on the
	// capture path before the overflow policy sheds data.
	EnqueueTimeout time.Duration

	// Policy selects what is shed on overflow. Defaults to DropOldest.
	Policy OverflowPolicy
}

// Queue is the bounded FIFO hand-off between the segment assembler
// (producer) and the transcription worker (single consumer). A full queue
// blocks the producer for a bounded time, then sheds one utterance according
// to the overflow policy. A live microphone cannot be paused, so the queue
// never grows past its capacity.
type Queue struct {
	ch      chan *segment.Utterance
	timeout time.Duration
	policy  OverflowPolicy

	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewQueue creates a Queue. Capacity must be at least 1.
func NewQueue(cfg QueueConfig) *Queue {
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = 1
	}
	policy := cfg.Policy
	if policy == "" {
		policy = DropOldest
	}
	return &Queue{
		ch:      make(chan *segment.Utterance, capacity),
		timeout: cfg.EnqueueTimeout,
		policy:  policy,
	}
}

// Enqueue adds u to the queue, blocking up to the configured timeout when
// the queue is full. On timeout one utterance is shed per the overflow
// policy and the loss is logged and counted. Enqueue never blocks
// indefinitely.
func (q *Queue) Enqueue(u *segment.Utterance) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	select {
	case q.ch <- u:
		return nil
	default:
	}

	// Full: exert backpressure for the configured window.
	if q.timeout > 0 {
		t := time.NewTimer(q.timeout)
		defer t.Stop()
		select {
		case q.ch <- u:
			return nil
		case <-t.C:
		}
	}

	// Still full: shed per policy.
	if q.policy == DropNewest {
		q.dropped.Add(1)
		slog.Warn("transcription queue overflow, dropping newest utterance",
			"seq", u.Seq, "duration", u.Duration)
		return nil
	}

	select {
	case old := <-q.ch:
		q.dropped.Add(1)
		slog.Warn("transcription queue overflow, dropping oldest utterance",
			"seq", old.Seq, "duration", old.Duration)
	default:
		// Consumer drained the queue in the meantime; nothing to shed.
	}
	select {
	case q.ch <- u:
		return nil
	default:
		// Lost the race with the producer side; shed the newcomer instead.
		q.dropped.Add(1)
		slog.Warn("transcription queue overflow, dropping newest utterance",
			"seq", u.Seq, "duration", u.Duration)
		return nil
	}
}

// Dequeue removes the next utterance in FIFO order. It blocks until an
// utterance is available, the queue is closed and drained (returns
// ErrQueueClosed), or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*segment.Utterance, error) {
	select {
	case u, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the queue closed. Utterances already queued remain
// dequeueable; further Enqueue calls fail. Safe to call more than once.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// Len returns the number of queued utterances.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns the number of utterances shed due to overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
