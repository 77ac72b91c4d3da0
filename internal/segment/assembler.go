// Package segment turns a classified frame stream into discrete utterances.
//
// The Assembler is a two-state hysteresis machine (Idle, Capturing). Speech
// opens an utterance; silence must be sustained for a configured duration
// before the utterance closes, so natural pauses do not fragment speech. A
// maximum utterance duration bounds memory and is always checked before the
// silence rule, so a long utterance is cut deterministically rather than
// starved by fluctuating amplitude.
//
// The Assembler owns all of its segmentation state, so multiple instances
// can coexist without interference. It is driven by a single capture
// goroutine and is not safe for concurrent use.
package segment

import (
	"time"

	"github.com/quietriver/earshot/internal/vad"
	"github.com/quietriver/earshot/pkg/pcm"
)

// Reason records why an utterance was finalized.
type Reason string

const (
	// ReasonSilenceTimeout means sustained silence followed speech.
	ReasonSilenceTimeout Reason = "silence-timeout"

	// ReasonMaxDuration means the utterance hit the configured duration
	// ceiling and was cut.
	ReasonMaxDuration Reason = "max-duration"

	// ReasonStreamClosed means the sample stream ended while capturing.
	ReasonStreamClosed Reason = "stream-closed"
)

// Utterance is an assembled speech segment: the concatenation of all frames
// captured between detected speech start and confirmed speech end. It is
// owned exclusively by the pipeline until a transcription attempt completes,
// after which the PCM buffer is released.
type Utterance struct {
	// Seq is the monotonic sequence number assigned at creation. Sequence
	// numbers are strictly increasing and gapless for one assembler's
	// lifetime; they define delivery order downstream.
	Seq uint64

	// PCM is the utterance audio as 16-bit little-endian samples,
	// including any trailing silence captured before the timeout fired.
	PCM []byte

	// SampleRate and Channels describe the PCM format.
	SampleRate int
	Channels   int

	// Start and End are the capture timestamps of the first and last
	// frame.
	Start time.Time
	End   time.Time

	// Duration is the total audio duration of the buffered frames.
	Duration time.Duration

	// Reason records why the utterance was finalized.
	Reason Reason
}

// Config holds the assembler parameters.
type Config struct {
	// SilenceDuration is how long silence must persist after speech before
	// the utterance is closed.
	SilenceDuration time.Duration

	// MaxUtteranceDuration is the hard ceiling on one utterance's audio
	// duration. Checked before the silence rule on every frame.
	MaxUtteranceDuration time.Duration
}

// state is the assembler's hysteresis state.
type state int

const (
	stateIdle state = iota
	stateCapturing
)

// Assembler consumes frame/classification pairs and emits finished
// utterances.
type Assembler struct {
	cfg Config

	st      state
	nextSeq uint64

	// current utterance under assembly; valid only in stateCapturing.
	seq        uint64
	buf        []byte
	sampleRate int
	channels   int
	start      time.Time
	end        time.Time
	duration   time.Duration
	silence    time.Duration
}

// New creates an Assembler. Sequence numbers start at 1.
func New(cfg Config) *Assembler {
	return &Assembler{cfg: cfg, nextSeq: 1}
}

// SetConfig replaces the timing parameters. The change takes effect from the
// next processed frame; an utterance currently under assembly keeps its
// buffered audio and sequence number. Callers must serialise SetConfig with
// Process themselves.
func (a *Assembler) SetConfig(cfg Config) {
	a.cfg = cfg
}

// Process feeds one classified frame through the state machine. It returns a
// finished Utterance when this frame completed one, and nil otherwise. A
// max-duration cut keeps the assembler in the capturing state so the next
// frame opens the follow-on utterance with no frame loss.
func (a *Assembler) Process(frame pcm.Frame, c vad.Classification) *Utterance {
	switch a.st {
	case stateIdle:
		if !c.Speech {
			// Leading silence is discarded, never buffered.
			return nil
		}
		a.begin(frame)
		a.append(frame)
		return a.checkMaxDuration()

	case stateCapturing:
		// An empty buffer here means the previous frame caused a
		// max-duration cut; this frame opens the follow-on utterance.
		if len(a.buf) == 0 {
			if !c.Speech {
				a.st = stateIdle
				return nil
			}
			a.begin(frame)
		}
		a.append(frame)

		// Max-duration is evaluated first so a long utterance is always
		// cut deterministically.
		if u := a.checkMaxDuration(); u != nil {
			return u
		}

		if c.Speech {
			a.silence = 0
			return nil
		}
		a.silence += frame.Duration()
		if a.silence >= a.cfg.SilenceDuration {
			u := a.finalize(ReasonSilenceTimeout)
			a.st = stateIdle
			return u
		}
		return nil
	}
	return nil
}

// Flush finalizes and returns the utterance under assembly with reason
// stream-closed, or nil when nothing is being captured. Call it when the
// sample stream ends or the pipeline stops.
func (a *Assembler) Flush() *Utterance {
	if a.st != stateCapturing || len(a.buf) == 0 {
		a.st = stateIdle
		return nil
	}
	u := a.finalize(ReasonStreamClosed)
	a.st = stateIdle
	return u
}

// begin opens a new utterance starting at frame.
func (a *Assembler) begin(frame pcm.Frame) {
	a.st = stateCapturing
	a.seq = a.nextSeq
	a.nextSeq++
	a.buf = make([]byte, 0, 4096)
	a.sampleRate = frame.SampleRate
	a.channels = frame.Channels
	a.start = frame.Timestamp
	a.duration = 0
	a.silence = 0
}

// append adds frame to the current utterance buffer.
func (a *Assembler) append(frame pcm.Frame) {
	a.buf = frame.AppendBytes(a.buf)
	a.end = frame.Timestamp.Add(frame.Duration())
	a.duration += frame.Duration()
}

// checkMaxDuration cuts the current utterance when it has reached the
// configured ceiling. The assembler stays in the capturing state with an
// empty buffer so that the next speech frame continues seamlessly.
func (a *Assembler) checkMaxDuration() *Utterance {
	if a.cfg.MaxUtteranceDuration <= 0 || a.duration < a.cfg.MaxUtteranceDuration {
		return nil
	}
	u := a.finalize(ReasonMaxDuration)
	// remain capturing: the follow-on utterance opens on the next frame
	return u
}

// finalize packages the current buffer as an Utterance and clears the
// assembly state.
func (a *Assembler) finalize(reason Reason) *Utterance {
	u := &Utterance{
		Seq:        a.seq,
		PCM:        a.buf,
		SampleRate: a.sampleRate,
		Channels:   a.channels,
		Start:      a.start,
		End:        a.end,
		Duration:   a.duration,
		Reason:     reason,
	}
	a.buf = nil
	a.duration = 0
	a.silence = 0
	return u
}
