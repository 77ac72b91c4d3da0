package transcribe

import (
	"context"
	"errors"
	"log/slog"
)

// Sink receives every Result the worker produces, in sequence order.
type Sink func(context.Context, Result)

// Worker is the single consumer of the queue. One worker per pipeline keeps
// recognition calls strictly ordered: exactly one call is in flight at any
// time, so results come out in utterance sequence order without reordering
// machinery.
type Worker struct {
	queue    *Queue
	selector *Selector
	sink     Sink
	observer func(Result)
}

// NewWorker creates a Worker draining queue through selector into sink.
// observer, if non-nil, is invoked for every result after the sink; it is
// where metrics hang off.
func NewWorker(queue *Queue, selector *Selector, sink Sink, observer func(Result)) *Worker {
	return &Worker{queue: queue, selector: selector, sink: sink, observer: observer}
}

// Run consumes the queue until it is closed and drained, or ctx is done.
// A closed-and-drained queue returns nil; that is the normal shutdown path.
func (w *Worker) Run(ctx context.Context) error {
	for {
		u, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				slog.Debug("transcription worker drained, stopping")
				return nil
			}
			return err
		}

		res := w.selector.Transcribe(ctx, u)
		u.PCM = nil // release the audio as soon as recognition is done

		if res.Empty() && !res.Failed() {
			slog.Debug("engine returned empty transcript", "seq", res.Seq, "engine", res.Engine)
		}
		w.sink(ctx, res)
		if w.observer != nil {
			w.observer(res)
		}
	}
}
