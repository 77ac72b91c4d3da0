package pcm

import (
	"context"
	"errors"
)

// ErrEndOfStream is returned by SampleSource.NextFrame when the underlying
// audio stream has terminated. The pipeline treats it as a clean shutdown
// trigger, not a failure.
var ErrEndOfStream = errors.New("pcm: end of stream")

// SampleSource supplies a continuous sequence of PCM frames in capture order.
// Implementations wrap a concrete audio driver binding (ALSA, PortAudio,
// a network stream, or a test fixture) and must deliver frames at real-time
// cadence. The pipeline never reorders frames.
//
// A SampleSource is consumed by exactly one goroutine; implementations do not
// need to be safe for concurrent NextFrame calls.
type SampleSource interface {
	// NextFrame blocks until the next frame is available and returns it.
	// It returns ErrEndOfStream when the stream has terminated cleanly and
	// some other error when capture fails irrecoverably. Both end the
	// capture loop; any utterance being assembled is flushed.
	//
	// NextFrame must honour ctx cancellation by returning ctx.Err().
	NextFrame(ctx context.Context) (Frame, error)

	// Close releases the capture device. Calling Close more than once is
	// safe and returns nil.
	Close() error
}
