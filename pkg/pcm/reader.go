package pcm

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"
)

// ReaderSource cuts a raw 16-bit little-endian PCM byte stream into
// fixed-length frames. It is the capture path for piped audio, e.g.
//
//	arecord -f S16_LE -r 16000 -c 1 | earshot
//
// or for replaying recorded files at full speed. A read blocked on the
// underlying reader is released by Close; NextFrame alone cannot interrupt
// it, so cancel by closing.
type ReaderSource struct {
	r          io.Reader
	sampleRate int
	channels   int
	frameBytes int

	mu     sync.Mutex
	closed bool
}

// NewReaderSource wraps r. Non-positive arguments fall back to 16kHz mono
// and 20ms frames.
func NewReaderSource(r io.Reader, sampleRate, channels int, frameDuration time.Duration) *ReaderSource {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}
	samples := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second) * int64(channels))
	if samples < 1 {
		samples = 1
	}
	return &ReaderSource{
		r:          r,
		sampleRate: sampleRate,
		channels:   channels,
		frameBytes: samples * 2,
	}
}

// NextFrame reads one frame worth of bytes. A trailing partial frame is
// discarded; io.EOF maps to ErrEndOfStream.
func (s *ReaderSource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, ErrEndOfStream
	}
	s.mu.Unlock()

	buf := make([]byte, s.frameBytes)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, ErrEndOfStream
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Frame{}, ErrEndOfStream
		}
		return Frame{}, err
	}

	samples := make([]int16, s.frameBytes/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return Frame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  time.Now(),
	}, nil
}

// Close marks the source closed and closes the underlying reader when it is
// an io.Closer, releasing any blocked read.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ SampleSource = (*ReaderSource)(nil)
