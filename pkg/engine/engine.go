// Package engine defines the Adapter interface for speech recognition
// backends.
//
// An adapter wraps a single recognition engine (a cloud transcription API,
// a local whisper-server process, or an in-process model) and exposes a
// uniform batch interface: one complete utterance of raw PCM in, one string
// of text out. Streaming recognition, diarization, and model internals are
// the adapter's own concern; the pipeline treats every engine as a black box
// bounded by the per-call context deadline.
//
// Implementations must be safe to call repeatedly and concurrently, and must
// respect context cancellation by returning rather than hanging.
package engine

import "context"

// Audio carries one complete utterance of raw audio for recognition.
type Audio struct {
	// PCM is the utterance as 16-bit signed little-endian samples.
	PCM []byte

	// SampleRate is the sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Adapter is the abstraction over any recognition engine backend.
type Adapter interface {
	// Name returns a short stable identifier for the engine (e.g.,
	// "whispercpp", "openai"). It is recorded on every transcription result
	// and used as a metric attribute.
	Name() string

	// Recognize transcribes one utterance and returns the recognised text,
	// which may be empty when the audio contains no intelligible speech.
	// The call must return promptly once ctx is cancelled or its deadline
	// passes.
	Recognize(ctx context.Context, audio Audio) (string, error)
}
