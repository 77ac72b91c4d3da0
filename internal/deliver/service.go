package deliver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quietriver/earshot/internal/transcribe"
)

// PendingStore receives records the service gives up on, so they survive a
// restart and can be resent later. Implemented by pendingstore.
type PendingStore interface {
	Save(ctx context.Context, rec *Record) error
}

// ErrServiceClosed is returned by Submit after Close.
var ErrServiceClosed = errors.New("deliver: service closed")

// Config holds the delivery service parameters.
type Config struct {
	// Workers is the number of concurrent delivery goroutines. Defaults
	// to 1, which preserves delivery order.
	Workers int

	// QueueSize bounds the records waiting for a worker. Defaults to 64.
	QueueSize int

	// MaxAttempts is the total number of delivery attempts per record
	// before it is abandoned. Defaults to 5.
	MaxAttempts int

	// BackoffBase is the wait before the first retry; it doubles per
	// attempt. Defaults to 1s.
	BackoffBase time.Duration

	// BackoffMax caps the doubling. Defaults to 30s.
	BackoffMax time.Duration

	// Jitter is the random fraction added to each wait, 0..1. Defaults
	// to 0.2.
	Jitter float64
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueSize < 1 {
		c.QueueSize = 64
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Service owns the delivery queue and its worker pool. Every submitted
// result either reaches the sink or ends up in the pending store; nothing is
// silently lost.
type Service struct {
	cfg   Config
	sink  Sink
	store PendingStore
	bo    backoff

	queue  chan *Record
	closed atomic.Bool

	// onTerminal, if set, fires once per record when it reaches a
	// terminal state.
	onTerminal func(*Record)
}

// NewService creates a Service delivering through sink. store receives
// abandoned records; it must not be nil.
func NewService(cfg Config, sink Sink, store PendingStore, onTerminal func(*Record)) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:        cfg,
		sink:       sink,
		store:      store,
		bo:         backoff{base: cfg.BackoffBase, max: cfg.BackoffMax, jitter: cfg.Jitter},
		queue:      make(chan *Record, cfg.QueueSize),
		onTerminal: onTerminal,
	}
}

// Submit wraps res in a new Record and queues it for delivery. It blocks
// while the queue is full until ctx is done.
func (s *Service) Submit(ctx context.Context, res transcribe.Result) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	select {
	case s.queue <- NewRecord(res):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting submissions. Queued records are still delivered;
// Run returns once they are done. Safe to call more than once.
func (s *Service) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.queue)
	}
}

// QueueLen returns the number of records waiting for a worker.
func (s *Service) QueueLen() int { return len(s.queue) }

// Run starts the worker pool and blocks until the queue is closed and
// drained, or ctx is done. Records still in flight when ctx expires are
// saved to the pending store so they can be resent after restart.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Service) work(ctx context.Context) {
	for {
		select {
		case rec, ok := <-s.queue:
			if !ok {
				return
			}
			s.deliver(ctx, rec)
		case <-ctx.Done():
			s.stash(ctx)
			return
		}
	}
}

// deliver attempts rec until it succeeds, exhausts its attempts, or ctx
// expires.
func (s *Service) deliver(ctx context.Context, rec *Record) {
	for {
		err := s.attempt(ctx, rec)
		if err == nil {
			rec.Status = StatusDelivered
			rec.LastError = ""
			slog.Info("transcription delivered",
				"record", rec.ID, "seq", rec.Result.Seq, "attempts", rec.Attempts)
			s.finish(rec)
			return
		}

		rec.LastError = err.Error()
		slog.Warn("delivery attempt failed",
			"record", rec.ID, "seq", rec.Result.Seq, "attempt", rec.Attempts, "error", err)

		if rec.Attempts >= s.cfg.MaxAttempts {
			s.abandon(ctx, rec)
			return
		}

		wait := s.bo.wait(rec.Attempts - 1)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.persist(rec)
			return
		}
	}
}

func (s *Service) attempt(ctx context.Context, rec *Record) error {
	err := s.sink.Send(ctx, rec)
	rec.Attempts++
	rec.LastAttempt = time.Now()
	return err
}

func (s *Service) abandon(ctx context.Context, rec *Record) {
	rec.Status = StatusAbandoned
	slog.Error("delivery abandoned",
		"record", rec.ID, "seq", rec.Result.Seq, "attempts", rec.Attempts, "error", rec.LastError)
	if err := s.store.Save(ctx, rec); err != nil {
		slog.Error("saving abandoned record failed", "record", rec.ID, "error", err)
	}
	s.finish(rec)
}

// stash drains the remaining queue into the pending store on shutdown.
func (s *Service) stash(ctx context.Context) {
	for {
		select {
		case rec, ok := <-s.queue:
			if !ok {
				return
			}
			s.persist(rec)
		default:
			return
		}
	}
}

// persist saves a still-pending record across a shutdown without marking it
// abandoned: it was interrupted, not given up on.
func (s *Service) persist(rec *Record) {
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(saveCtx, rec); err != nil {
		slog.Error("saving interrupted record failed", "record", rec.ID, "error", err)
		return
	}
	slog.Info("interrupted delivery saved for resend", "record", rec.ID, "seq", rec.Result.Seq)
}

func (s *Service) finish(rec *Record) {
	if s.onTerminal != nil {
		s.onTerminal(rec)
	}
}

// DeliverNow wraps rec's result in a fresh Record and makes a single
// immediate delivery attempt, outside the queue and retry loop. The
// recovered record is never mutated; terminal states stay terminal. The
// returned record carries the outcome of the attempt.
func (s *Service) DeliverNow(ctx context.Context, rec *Record) (*Record, error) {
	fresh := NewRecord(rec.Result)
	if err := s.attempt(ctx, fresh); err != nil {
		fresh.LastError = err.Error()
		return fresh, err
	}
	fresh.Status = StatusDelivered
	return fresh, nil
}
