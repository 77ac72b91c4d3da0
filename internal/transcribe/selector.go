package transcribe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quietriver/earshot/internal/observe"
	"github.com/quietriver/earshot/internal/resilience"
	"github.com/quietriver/earshot/internal/segment"
	"github.com/quietriver/earshot/pkg/engine"
)

// Connectivity reports whether the network path to online engines is
// believed to be up. Implemented by connectivity.Probe.
type Connectivity interface {
	Online() bool
}

// SelectorConfig holds the engine selection parameters.
type SelectorConfig struct {
	// Primary is the engine used whenever it is eligible. Required.
	Primary engine.Adapter

	// Offline is the engine used instead of Primary while connectivity is
	// down. Optional; without it the selector always uses Primary.
	Offline engine.Adapter

	// FallbackEnabled turns connectivity-driven switching on. When false
	// the Primary engine is used unconditionally.
	FallbackEnabled bool

	// Connectivity supplies the online/offline signal. Ignored unless
	// FallbackEnabled is set.
	Connectivity Connectivity

	// Breaker, when set, guards the Primary engine. While it is open the
	// selector behaves as if connectivity were down: the Offline engine
	// takes over until Primary probes succeed again. Ignored unless
	// FallbackEnabled is set.
	Breaker *resilience.CircuitBreaker

	// RequestTimeout bounds each recognition call. Zero means no bound
	// beyond the caller's context.
	RequestTimeout time.Duration
}

// Selector picks an engine per utterance and converts every outcome,
// including errors and timeouts, into a Result. It never swallows an
// utterance: a failed call yields an empty-text Result annotated with the
// error so downstream consumers see an unbroken sequence.
type Selector struct {
	cfg SelectorConfig
}

// NewSelector creates a Selector from cfg.
func NewSelector(cfg SelectorConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Pick returns the engine the current connectivity and breaker state
// selects.
func (s *Selector) Pick() engine.Adapter {
	if !s.cfg.FallbackEnabled || s.cfg.Offline == nil {
		return s.cfg.Primary
	}
	if s.cfg.Connectivity != nil && !s.cfg.Connectivity.Online() {
		return s.cfg.Offline
	}
	if s.cfg.Breaker != nil && s.cfg.Breaker.State() == resilience.StateOpen {
		return s.cfg.Offline
	}
	return s.cfg.Primary
}

// Transcribe recognises u with the selected engine and returns the Result.
// Failures on the Primary engine feed the breaker; when the breaker rejects
// a call outright the Offline engine handles the utterance instead.
func (s *Selector) Transcribe(ctx context.Context, u *segment.Utterance) Result {
	eng := s.Pick()

	callCtx := ctx
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	audio := engine.Audio{
		PCM:        u.PCM,
		SampleRate: u.SampleRate,
		Channels:   u.Channels,
	}

	callCtx, span := observe.StartSpan(callCtx, "engine.recognize",
		trace.WithAttributes(
			attribute.String("engine", eng.Name()),
			attribute.Int64("utterance.seq", int64(u.Seq)),
		),
	)
	defer span.End()

	began := time.Now()
	text, err := s.recognize(callCtx, eng, audio)
	if errors.Is(err, resilience.ErrCircuitOpen) && s.cfg.Offline != nil && eng != s.cfg.Offline {
		observe.Logger(callCtx).Warn("primary engine circuit open, using offline engine", "seq", u.Seq)
		eng = s.cfg.Offline
		span.SetAttributes(attribute.String("engine", eng.Name()))
		text, err = eng.Recognize(callCtx, audio)
	}
	latency := time.Since(began)

	res := Result{
		Seq:           u.Seq,
		Engine:        eng.Name(),
		Latency:       latency,
		Timestamp:     time.Now(),
		Start:         u.Start,
		AudioDuration: u.Duration,
		Reason:        u.Reason,
	}
	if err != nil {
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(callCtx).Error("transcription failed",
			"seq", u.Seq, "engine", eng.Name(), "latency", latency, "error", err)
		return res
	}
	res.Text = text
	return res
}

// recognize runs one engine call, routing Primary calls through the breaker
// when one is configured.
func (s *Selector) recognize(ctx context.Context, eng engine.Adapter, audio engine.Audio) (string, error) {
	if s.cfg.Breaker == nil || !s.cfg.FallbackEnabled || eng != s.cfg.Primary {
		return eng.Recognize(ctx, audio)
	}
	var text string
	err := s.cfg.Breaker.Execute(func() error {
		var callErr error
		text, callErr = eng.Recognize(ctx, audio)
		return callErr
	})
	return text, err
}
