// Package pcm defines the raw audio types exchanged between a sample source
// and the earshot capture pipeline.
//
// Audio is represented as fixed-length Frames of signed 16-bit little-endian
// PCM samples at a configured sample rate and channel count. Frames are
// ephemeral: they are owned by the capture path while in flight and are never
// persisted. A SampleSource produces them at real-time cadence; everything
// downstream consumes them in arrival order.
package pcm

import (
	"encoding/binary"
	"time"
)

// Frame is a fixed-length block of signed 16-bit PCM samples with a capture
// timestamp. For multi-channel audio the samples are interleaved.
type Frame struct {
	// Samples holds the raw interleaved 16-bit samples.
	Samples []int16

	// SampleRate is the sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int

	// Timestamp records when capture of this frame started.
	Timestamp time.Time
}

// Duration returns the play-out duration of the frame. Returns 0 for
// invalid sample rates or channel counts.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// MeanAbsAmplitude returns the mean absolute amplitude of the frame in raw
// 16-bit sample units (0–32768). It performs no allocation and runs in
// O(len(Samples)), making it safe to call on the capture path. An empty frame
// has amplitude 0.
func (f Frame) MeanAbsAmplitude() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range f.Samples {
		v := int64(s)
		if v < 0 {
			// int16 minimum negates to itself; clamp to the positive range.
			if v == -32768 {
				v = 32767
			} else {
				v = -v
			}
		}
		sum += v
	}
	return float64(sum) / float64(len(f.Samples))
}

// Bytes encodes the frame's samples as 16-bit little-endian PCM. This is the
// wire format expected by the recognition engine adapters.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// AppendBytes appends the frame's 16-bit little-endian encoding to dst and
// returns the extended slice. Used by the segment assembler to grow an
// utterance buffer without intermediate allocations.
func (f Frame) AppendBytes(dst []byte) []byte {
	for _, s := range f.Samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
