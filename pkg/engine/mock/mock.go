// Package mock provides a test double for the engine.Adapter interface.
//
// Use Adapter to inject scripted recognition results and inspect the audio
// that was submitted:
//
//	eng := &mock.Adapter{NameValue: "fake", Text: "hello world"}
//	text, err := eng.Recognize(ctx, audio)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/quietriver/earshot/pkg/engine"
)

// RecognizeCall records a single invocation of Adapter.Recognize.
type RecognizeCall struct {
	// Audio is the value passed to Recognize. The PCM slice is not copied.
	Audio engine.Audio
}

// Adapter is a mock implementation of engine.Adapter.
type Adapter struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock" when empty.
	NameValue string

	// Text is returned by every Recognize call.
	Text string

	// Err, if non-nil, is returned by every Recognize call.
	Err error

	// Delay, when non-zero, makes Recognize block this long (or until ctx
	// is done, whichever comes first). Use it to exercise timeout paths.
	Delay time.Duration

	// RecognizeFunc, when non-nil, overrides the canned behaviour entirely.
	RecognizeFunc func(ctx context.Context, audio engine.Audio) (string, error)

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall
}

// Name returns NameValue, or "mock" when unset.
func (a *Adapter) Name() string {
	if a.NameValue == "" {
		return "mock"
	}
	return a.NameValue
}

// Recognize records the call and returns the scripted result, honouring
// Delay and context cancellation.
func (a *Adapter) Recognize(ctx context.Context, audio engine.Audio) (string, error) {
	a.mu.Lock()
	a.RecognizeCalls = append(a.RecognizeCalls, RecognizeCall{Audio: audio})
	fn := a.RecognizeFunc
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio)
	}
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return a.Text, a.Err
}

// Calls returns a copy of the recorded Recognize calls. Thread-safe.
func (a *Adapter) Calls() []RecognizeCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RecognizeCall, len(a.RecognizeCalls))
	copy(out, a.RecognizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RecognizeCalls = nil
}

// Ensure Adapter implements engine.Adapter at compile time.
var _ engine.Adapter = (*Adapter)(nil)
