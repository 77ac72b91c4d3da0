// Package app wires all Earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from the config, Run executes the capture and delivery loops
// until the context is cancelled, and the built-in drain logic finishes
// in-flight work within the configured shutdown timeout.
//
// For testing, inject doubles via functional options (WithPendingStore,
// WithSink, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quietriver/earshot/internal/aggregate"
	"github.com/quietriver/earshot/internal/api"
	"github.com/quietriver/earshot/internal/config"
	"github.com/quietriver/earshot/internal/connectivity"
	"github.com/quietriver/earshot/internal/deliver"
	"github.com/quietriver/earshot/internal/health"
	"github.com/quietriver/earshot/internal/observe"
	"github.com/quietriver/earshot/internal/pendingstore"
	"github.com/quietriver/earshot/internal/resilience"
	"github.com/quietriver/earshot/internal/segment"
	"github.com/quietriver/earshot/internal/store"
	"github.com/quietriver/earshot/internal/transcribe"
	"github.com/quietriver/earshot/internal/vad"
	"github.com/quietriver/earshot/pkg/engine"
	"github.com/quietriver/earshot/pkg/pcm"
)

// defaultMemoryCapacity bounds the transcript ring when the config leaves
// storage.memory_capacity unset.
const defaultMemoryCapacity = 200

// defaultShutdownTimeout bounds the drain phase when shutdown.timeout is
// unset.
const defaultShutdownTimeout = 15 * time.Second

// Engines holds one constructed adapter per engine slot. Nil means the slot
// is not configured. Populated by main.go via the config registry.
type Engines struct {
	Online  engine.Adapter
	Offline engine.Adapter
}

// App owns all subsystem lifetimes and orchestrates the capture →
// transcription → delivery pipeline.
type App struct {
	cfg *config.Config

	source  pcm.SampleSource
	metrics *observe.Metrics

	// mu serialises frame processing with hot config reloads.
	mu       sync.Mutex
	detector *vad.Detector
	asm      *segment.Assembler

	probe    *connectivity.Probe
	queue    *transcribe.Queue
	selector *transcribe.Selector
	worker   *transcribe.Worker
	delivery *deliver.Service
	pending  pendingstore.Store
	memory   *store.Memory
	files    *store.Files
	agg      *aggregate.Aggregator
	server   *api.Server
	httpSrv  *http.Server

	capturing atomic.Bool

	// injectedSink is set by WithSink and consumed by initDelivery.
	injectedSink deliver.Sink

	// closers are called in reverse order after Run returns.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPendingStore injects a pending store instead of creating one from
// the config.
func WithPendingStore(s pendingstore.Store) Option {
	return func(a *App) { a.pending = s }
}

// WithMetrics injects a metrics set instead of creating one from the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSink injects a delivery sink instead of building an HTTP sink from
// delivery.url. Forces the delivery service on even when no URL is set.
func WithSink(s deliver.Sink) Option {
	return func(a *App) { a.injectedSink = s }
}

// New creates an App by wiring all subsystems together. The engines struct
// comes from main.go (populated via the config registry); at least one slot
// must be non-nil.
func New(cfg *config.Config, source pcm.SampleSource, engines Engines, opts ...Option) (*App, error) {
	if engines.Online == nil && engines.Offline == nil {
		return nil, errors.New("app: no engine configured")
	}

	a := &App{cfg: cfg, source: source}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.detector = vad.New(vad.Config{
		Threshold:       cfg.VAD.Threshold,
		SmoothingWindow: cfg.VAD.SmoothingWindow,
	})
	a.asm = segment.New(segment.Config{
		SilenceDuration:      cfg.Segment.SilenceDuration.Std(),
		MaxUtteranceDuration: cfg.Segment.MaxUtteranceDuration.Std(),
	})

	a.queue = transcribe.NewQueue(transcribe.QueueConfig{
		Capacity:       cfg.Queue.Capacity,
		EnqueueTimeout: cfg.Queue.EnqueueTimeout.Std(),
		Policy:         transcribe.OverflowPolicy(cfg.Queue.OverflowPolicy),
	})

	a.initProbe()
	a.initSelector(engines)

	if err := a.initStores(); err != nil {
		return nil, err
	}
	if err := a.initDelivery(); err != nil {
		return nil, err
	}
	a.initAggregator()
	a.initServer()

	a.worker = transcribe.NewWorker(a.queue, a.selector, a.handleResult, a.observeResult)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initProbe() {
	pc := connectivity.DefaultConfig()
	if len(a.cfg.Connectivity.Targets) > 0 {
		pc.Targets = a.cfg.Connectivity.Targets
	}
	if d := a.cfg.Connectivity.Interval.Std(); d > 0 {
		pc.Interval = d
	}
	if d := a.cfg.Connectivity.DialTimeout.Std(); d > 0 {
		pc.DialTimeout = d
	}
	a.probe = connectivity.NewProbe(pc)
}

func (a *App) initSelector(engines Engines) {
	primary := engines.Online
	if primary == nil {
		primary = engines.Offline
	}
	fallback := a.cfg.Engines.Fallback.Enabled && engines.Online != nil && engines.Offline != nil

	var breaker *resilience.CircuitBreaker
	if fallback {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "online-engine"})
	}

	a.selector = transcribe.NewSelector(transcribe.SelectorConfig{
		Primary:         primary,
		Offline:         engines.Offline,
		FallbackEnabled: fallback,
		Connectivity:    a.probe,
		Breaker:         breaker,
		RequestTimeout:  a.cfg.Engines.RequestTimeout.Std(),
	})
}

func (a *App) initStores() error {
	capacity := a.cfg.Storage.MemoryCapacity
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	a.memory = store.NewMemory(capacity)

	if dir := a.cfg.Storage.Dir; dir != "" {
		files, err := store.NewFiles(dir)
		if err != nil {
			return fmt.Errorf("app: init transcript files: %w", err)
		}
		a.files = files
	}

	if a.pending != nil {
		return nil
	}
	switch a.cfg.Pending.Backend {
	case config.PendingBadger:
		s, err := pendingstore.NewBadgerStore(pendingstore.BadgerOptions{Dir: a.cfg.Pending.Path})
		if err != nil {
			return fmt.Errorf("app: open badger pending store: %w", err)
		}
		a.pending = s
	case config.PendingFile, "":
		if a.cfg.Pending.Path == "" {
			slog.Info("pending store disabled, no path configured")
			return nil
		}
		a.pending = pendingstore.NewFileStore(a.cfg.Pending.Path)
	default:
		return fmt.Errorf("app: unknown pending backend %q", a.cfg.Pending.Backend)
	}
	a.closers = append(a.closers, a.pending.Close)
	return nil
}

func (a *App) initDelivery() error {
	sink := a.injectedSink
	if sink == nil {
		if a.cfg.Delivery.URL == "" {
			slog.Info("delivery disabled, no url configured")
			return nil
		}
		hs, err := deliver.NewHTTPSink(a.cfg.Delivery.URL, deliver.WithHeaders(a.cfg.Delivery.Headers))
		if err != nil {
			return fmt.Errorf("app: build delivery sink: %w", err)
		}
		sink = hs
	}
	sink = instrumentedSink{inner: sink, metrics: a.metrics}

	jitter := 0.2
	if a.cfg.Delivery.Jitter != nil {
		jitter = *a.cfg.Delivery.Jitter
	}
	dc := deliver.Config{
		Workers:     a.cfg.Delivery.Workers,
		QueueSize:   a.cfg.Delivery.QueueSize,
		MaxAttempts: a.cfg.Delivery.MaxAttempts,
		BackoffBase: a.cfg.Delivery.BackoffBase.Std(),
		BackoffMax:  a.cfg.Delivery.BackoffMax.Std(),
		Jitter:      jitter,
	}

	var pending deliver.PendingStore
	if a.pending != nil {
		pending = a.pending
	}
	a.delivery = deliver.NewService(dc, sink, pending, a.onDeliveryTerminal)
	return nil
}

func (a *App) initAggregator() {
	if !a.cfg.Aggregation.Enabled {
		return
	}
	ac := aggregate.Config{
		SilenceGap: a.cfg.Aggregation.SilenceGap.Std(),
		MaxBlocks:  a.cfg.Aggregation.MaxBlocks,
	}
	a.agg = aggregate.New(ac)
}

func (a *App) initServer() {
	checkers := []health.Checker{
		health.BoolChecker("pipeline", "capture loop not running", a.capturing.Load),
	}
	if a.pending != nil {
		checkers = append(checkers, health.Checker{
			Name: "pendingstore",
			Check: func(ctx context.Context) error {
				_, err := a.pending.List(ctx)
				return err
			},
		})
	}

	var resend api.Resender
	if a.delivery != nil {
		resend = a.delivery
	}
	a.server = api.New(api.Config{
		Memory:     a.memory,
		Pending:    a.pending,
		Resend:     resend,
		Probe:      a.probe,
		Pipeline:   a,
		Aggregator: a.agg,
		Health:     health.New(checkers...),
		Metrics:    a.metrics,
	})

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		a.httpSrv = &http.Server{
			Addr:              addr,
			Handler:           a.server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts all pipeline goroutines and blocks until ctx is cancelled and
// the drain completes. On cancellation the capture loop flushes the
// utterance under assembly and closes the queue; the transcription worker
// drains remaining utterances and the delivery service flushes or persists
// its backlog, all bounded by shutdown.timeout.
func (a *App) Run(ctx context.Context) error {
	// drainCtx outlives ctx so transcription and delivery can finish
	// queued work; the shutdown timer caps how long.
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()

	timeout := a.cfg.Shutdown.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	go func() {
		<-ctx.Done()
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-drainCtx.Done():
		case <-timer.C:
			slog.Warn("shutdown timeout exceeded, aborting drain")
			cancelDrain()
		}
	}()

	var g errgroup.Group

	g.Go(func() error {
		a.probe.Run(ctx)
		return nil
	})
	if a.agg != nil {
		g.Go(func() error {
			a.agg.Run(ctx)
			return nil
		})
	}
	if a.httpSrv != nil {
		g.Go(func() error { return a.serveHTTP(ctx) })
	}
	var deliveryDone chan struct{}
	if a.delivery != nil {
		deliveryDone = make(chan struct{})
		g.Go(func() error {
			_ = a.delivery.Run(drainCtx)
			close(deliveryDone)
			return nil
		})
	}

	g.Go(func() error {
		a.capture(ctx)
		return nil
	})
	g.Go(func() error {
		err := a.worker.Run(drainCtx)
		a.drainDelivery(drainCtx, deliveryDone)
		cancelDrain()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	slog.Info("pipeline running",
		"engine", a.selector.Pick().Name(),
		"queue_capacity", a.cfg.Queue.Capacity,
		"delivery", a.delivery != nil,
	)

	err := g.Wait()
	a.close()
	return err
}

// capture reads frames from the sample source until the stream ends or ctx
// is cancelled, then flushes the assembler and closes the queue so the
// worker can drain.
func (a *App) capture(ctx context.Context) {
	a.capturing.Store(true)
	defer a.capturing.Store(false)
	defer a.queue.Close()

	// Closing the source releases a NextFrame blocked on a driver read
	// that cannot observe ctx itself.
	stop := context.AfterFunc(ctx, func() {
		_ = a.source.Close()
	})
	defer stop()

	for {
		frame, err := a.source.NextFrame(ctx)
		if err != nil {
			switch {
			case errors.Is(err, pcm.ErrEndOfStream):
				slog.Info("sample stream ended")
			case ctx.Err() != nil:
				slog.Info("capture stopping")
			default:
				slog.Error("capture failed", "err", err)
			}
			break
		}
		a.processFrame(ctx, frame)
	}

	a.mu.Lock()
	u := a.asm.Flush()
	a.mu.Unlock()
	if u != nil {
		a.enqueue(ctx, u)
	}
}

func (a *App) processFrame(ctx context.Context, frame pcm.Frame) {
	a.mu.Lock()
	c := a.detector.Classify(frame)
	u := a.asm.Process(frame, c)
	a.mu.Unlock()

	if u != nil {
		a.enqueue(ctx, u)
	}
}

func (a *App) enqueue(ctx context.Context, u *segment.Utterance) {
	a.metrics.RecordUtterance(ctx, string(u.Reason), u.Duration.Seconds())

	before := a.queue.Dropped()
	if err := a.queue.Enqueue(u); err != nil {
		slog.Warn("queue closed, utterance lost", "seq", u.Seq)
		return
	}
	a.metrics.QueueDepth.Add(ctx, 1)
	if d := a.queue.Dropped() - before; d > 0 {
		a.metrics.QueueDrops.Add(ctx, int64(d))
		a.metrics.QueueDepth.Add(ctx, -int64(d))
	}
}

// handleResult is the worker sink: every finished result is recorded,
// broadcast, and handed to delivery.
func (a *App) handleResult(ctx context.Context, res transcribe.Result) {
	a.memory.Add(res)
	if a.files != nil {
		if err := a.files.Append(res); err != nil {
			slog.Error("transcript file append failed", "seq", res.Seq, "err", err)
		}
	}
	if a.agg != nil && !res.Failed() && !res.Empty() {
		a.agg.Add(res.Text, res.Timestamp)
	}
	a.server.Broadcast(res)

	if a.delivery != nil && !res.Failed() && !res.Empty() {
		a.metrics.DeliveryBacklog.Add(ctx, 1)
		if err := a.delivery.Submit(ctx, res); err != nil {
			a.metrics.DeliveryBacklog.Add(ctx, -1)
			slog.Warn("delivery submit failed", "seq", res.Seq, "err", err)
		}
	}
}

// observeResult records per-result metrics after the sink ran.
func (a *App) observeResult(res transcribe.Result) {
	ctx := context.Background()
	a.metrics.QueueDepth.Add(ctx, -1)

	status := "ok"
	if res.Failed() {
		status = "error"
	}
	a.metrics.RecordEngineRequest(ctx, res.Engine, status, res.Latency.Seconds())
	if !res.Failed() && res.Empty() {
		a.metrics.EmptyResults.Add(ctx, 1)
	}
}

func (a *App) onDeliveryTerminal(rec *deliver.Record) {
	ctx := context.Background()
	a.metrics.DeliveryBacklog.Add(ctx, -1)
	if rec.Status == deliver.StatusAbandoned {
		a.metrics.DeliveryAbandons.Add(ctx, 1)
	}
}

// drainDelivery closes the delivery queue after the last transcription and
// waits for the workers to return, so a record mid-flight finishes its send
// or backoff instead of being cut off. Only the shutdown deadline, which
// cancels ctx, bounds the wait.
func (a *App) drainDelivery(ctx context.Context, done <-chan struct{}) {
	if a.delivery == nil {
		return
	}
	a.delivery.Close()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (a *App) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(shCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return nil
	}
}

// close runs the closers in reverse order. Safe to call more than once.
func (a *App) close() {
	a.stopOnce.Do(func() {
		if err := a.source.Close(); err != nil {
			slog.Warn("source close error", "err", err)
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyDiff applies the hot-reloadable parts of a config change to the
// running pipeline. Log level changes are the caller's concern (main owns
// the level var).
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.Empty() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if d.VADChanged {
		a.detector = vad.New(vad.Config{
			Threshold:       d.NewVAD.Threshold,
			SmoothingWindow: d.NewVAD.SmoothingWindow,
		})
		slog.Info("vad config reloaded",
			"threshold", d.NewVAD.Threshold,
			"smoothing_window", d.NewVAD.SmoothingWindow,
		)
	}
	if d.SegmentChanged {
		a.asm.SetConfig(segment.Config{
			SilenceDuration:      d.NewSegment.SilenceDuration.Std(),
			MaxUtteranceDuration: d.NewSegment.MaxUtteranceDuration.Std(),
		})
		slog.Info("segment config reloaded",
			"silence_duration", d.NewSegment.SilenceDuration.Std(),
			"max_utterance_duration", d.NewSegment.MaxUtteranceDuration.Std(),
		)
	}
}

// ─── Status surface ──────────────────────────────────────────────────────────

// QueueLen implements [api.PipelineStatus].
func (a *App) QueueLen() int { return a.queue.Len() }

// QueueDropped implements [api.PipelineStatus].
func (a *App) QueueDropped() uint64 { return a.queue.Dropped() }

// DeliveryBacklog implements [api.PipelineStatus].
func (a *App) DeliveryBacklog() int {
	if a.delivery == nil {
		return 0
	}
	return a.delivery.QueueLen()
}

// EngineName implements [api.PipelineStatus].
func (a *App) EngineName() string { return a.selector.Pick().Name() }

// Handler exposes the HTTP surface for tests and embedding.
func (a *App) Handler() http.Handler { return a.server.Handler() }

var _ api.PipelineStatus = (*App)(nil)

// ─── Sink instrumentation ────────────────────────────────────────────────────

// instrumentedSink counts and times every delivery attempt.
type instrumentedSink struct {
	inner   deliver.Sink
	metrics *observe.Metrics
}

func (s instrumentedSink) Send(ctx context.Context, rec *deliver.Record) error {
	start := time.Now()
	err := s.inner.Send(ctx, rec)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDeliveryAttempt(ctx, status)
	s.metrics.DeliveryDuration.Record(ctx, time.Since(start).Seconds())
	return err
}
