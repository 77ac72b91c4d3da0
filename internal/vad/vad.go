// Package vad implements amplitude-based voice activity detection.
//
// The detector classifies each PCM frame as speech or silence by comparing
// its mean absolute amplitude against a configured threshold, optionally
// smoothed over a small moving-average window so that a single noisy frame
// does not flip the classification. Classify allocates nothing and runs in
// O(frame size), which keeps it safe to call from the capture loop.
//
// A Detector is owned by a single capture goroutine and is not safe for
// concurrent use.
package vad

import "github.com/quietriver/earshot/pkg/pcm"

// Classification is the per-frame detection result attached to a frame
// before it reaches the segment assembler.
type Classification struct {
	// Speech reports whether the frame's (smoothed) amplitude is at or
	// above the detection threshold.
	Speech bool

	// Amplitude is the frame's raw mean absolute amplitude in 16-bit
	// sample units, before smoothing.
	Amplitude float64
}

// Config holds the detector parameters.
type Config struct {
	// Threshold is the mean absolute amplitude (in 16-bit sample units,
	// 0–32768) at or above which a frame classifies as speech. Typical
	// ambient-microphone values sit between 200 and 1000.
	Threshold float64

	// SmoothingWindow is the number of recent frames averaged before the
	// threshold comparison. 0 or 1 disables smoothing. Keep this small
	// (2–4) so the detector still reacts within one frame period.
	SmoothingWindow int
}

// Detector classifies PCM frames as speech or silence. Create one per
// pipeline with New.
type Detector struct {
	threshold float64

	// moving-average state; window is nil when smoothing is disabled.
	window []float64
	next   int
	filled int
	sum    float64
}

// New creates a Detector. The smoothing ring is allocated once here so that
// Classify never allocates.
func New(cfg Config) *Detector {
	d := &Detector{threshold: cfg.Threshold}
	if cfg.SmoothingWindow > 1 {
		d.window = make([]float64, cfg.SmoothingWindow)
	}
	return d
}

// Classify computes the frame's mean absolute amplitude, folds it into the
// smoothing window, and compares the smoothed value against the threshold.
// All-zero frames always classify as silence.
func (d *Detector) Classify(frame pcm.Frame) Classification {
	amp := frame.MeanAbsAmplitude()
	smoothed := amp

	if d.window != nil {
		if d.filled < len(d.window) {
			d.filled++
		} else {
			d.sum -= d.window[d.next]
		}
		d.window[d.next] = amp
		d.sum += amp
		d.next = (d.next + 1) % len(d.window)
		smoothed = d.sum / float64(d.filled)
	}

	return Classification{
		Speech:    smoothed >= d.threshold && d.threshold > 0,
		Amplitude: amp,
	}
}

// Reset clears the smoothing state. Use when the audio stream restarts so a
// stale average does not leak into the new stream.
func (d *Detector) Reset() {
	for i := range d.window {
		d.window[i] = 0
	}
	d.next = 0
	d.filled = 0
	d.sum = 0
}
