package transcribe

import (
	"time"

	"github.com/quietriver/earshot/internal/segment"
)

// Result is the outcome of transcribing one utterance. Failed recognitions
// still produce a Result with empty Text and a non-empty Error annotation so
// the sequence stays gapless downstream.
type Result struct {
	// Seq is the ordinal carried over from the utterance.
	Seq uint64 `json:"seq"`

	// Text is the recognised transcript. Empty on failure and for
	// utterances the engine heard nothing in.
	Text string `json:"text"`

	// Engine names the adapter that produced (or failed to produce) Text.
	Engine string `json:"engine"`

	// Error annotates a failed recognition. Empty on success.
	Error string `json:"error,omitempty"`

	// Latency is the wall-clock duration of the recognition call.
	Latency time.Duration `json:"latency"`

	// Timestamp is when the result was produced.
	Timestamp time.Time `json:"timestamp"`

	// Start and AudioDuration describe the utterance the text came from.
	Start         time.Time      `json:"start"`
	AudioDuration time.Duration  `json:"audio_duration"`
	Reason        segment.Reason `json:"reason"`
}

// Failed reports whether the recognition errored.
func (r Result) Failed() bool { return r.Error != "" }

// Empty reports whether the result carries no usable text.
func (r Result) Empty() bool { return r.Text == "" }
