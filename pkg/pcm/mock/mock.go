// Package mock provides test doubles for the pcm package interfaces.
//
// Source replays a scripted sequence of frames at either full speed or a
// fixed cadence, then reports end of stream. Use the Speech and Silence
// helpers to build frame sequences with predictable amplitudes.
//
// Example:
//
//	frames := append(mock.Speech(16000, 1, 100, 20), mock.Silence(16000, 1, 200, 20)...)
//	src := mock.NewSource(frames)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/quietriver/earshot/pkg/pcm"
)

// Source is a mock implementation of pcm.SampleSource that replays a fixed
// frame sequence.
type Source struct {
	mu     sync.Mutex
	frames []pcm.Frame
	next   int
	closed bool

	// Cadence, when non-zero, makes NextFrame sleep this long before
	// returning each frame, simulating real-time capture.
	Cadence time.Duration

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSource creates a Source that replays frames in order and then returns
// pcm.ErrEndOfStream.
func NewSource(frames []pcm.Frame) *Source {
	return &Source{frames: frames}
}

// NextFrame returns the next scripted frame, pcm.ErrEndOfStream once the
// script is exhausted or the source is closed, or ctx.Err() on cancellation.
func (s *Source) NextFrame(ctx context.Context) (pcm.Frame, error) {
	if s.Cadence > 0 {
		select {
		case <-time.After(s.Cadence):
		case <-ctx.Done():
			return pcm.Frame{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return pcm.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.next >= len(s.frames) {
		return pcm.Frame{}, pcm.ErrEndOfStream
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// Close records the call and ends the stream.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.CloseCallCount++
	return nil
}

// Ensure Source implements pcm.SampleSource at compile time.
var _ pcm.SampleSource = (*Source)(nil)

// Speech returns count frames of frameMs milliseconds each, filled with a
// constant high amplitude (8000) that classifies as speech under any sane
// threshold.
func Speech(sampleRate, channels, count, frameMs int) []pcm.Frame {
	return constantFrames(sampleRate, channels, count, frameMs, 8000)
}

// Silence returns count frames of frameMs milliseconds each, filled with
// zeros.
func Silence(sampleRate, channels, count, frameMs int) []pcm.Frame {
	return constantFrames(sampleRate, channels, count, frameMs, 0)
}

func constantFrames(sampleRate, channels, count, frameMs int, value int16) []pcm.Frame {
	samplesPerFrame := sampleRate * frameMs / 1000 * channels
	frames := make([]pcm.Frame, count)
	base := time.Now()
	for i := range frames {
		samples := make([]int16, samplesPerFrame)
		for j := range samples {
			samples[j] = value
		}
		frames[i] = pcm.Frame{
			Samples:    samples,
			SampleRate: sampleRate,
			Channels:   channels,
			Timestamp:  base.Add(time.Duration(i*frameMs) * time.Millisecond),
		}
	}
	return frames
}
