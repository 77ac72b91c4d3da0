// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/quietriver/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EngineDuration tracks transcription engine latency. Use with
	// attribute.String("engine", ...).
	EngineDuration metric.Float64Histogram

	// DeliveryDuration tracks sink delivery latency.
	DeliveryDuration metric.Float64Histogram

	// UtteranceDuration tracks the audio length of assembled utterances.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts assembled utterances. Use with attribute:
	//   attribute.String("reason", ...)
	Utterances metric.Int64Counter

	// EngineRequests counts recognition calls. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	EngineRequests metric.Int64Counter

	// EmptyResults counts successful recognitions that produced no text.
	EmptyResults metric.Int64Counter

	// QueueDrops counts utterances shed by the transcription queue.
	QueueDrops metric.Int64Counter

	// DeliveryAttempts counts delivery attempts. Use with attribute:
	//   attribute.String("status", ...)
	DeliveryAttempts metric.Int64Counter

	// DeliveryAbandons counts records handed to the pending store after
	// exhausting their attempts.
	DeliveryAbandons metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of utterances waiting for transcription.
	QueueDepth metric.Int64UpDownCounter

	// DeliveryBacklog tracks the number of records waiting for a delivery
	// worker.
	DeliveryBacklog metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EngineDuration, err = m.Float64Histogram("earshot.engine.duration",
		metric.WithDescription("Latency of transcription engine calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DeliveryDuration, err = m.Float64Histogram("earshot.delivery.duration",
		metric.WithDescription("Latency of sink delivery attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("earshot.utterance.duration",
		metric.WithDescription("Audio length of assembled utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 20, 30, 60),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("earshot.utterances",
		metric.WithDescription("Total assembled utterances by cut reason."),
	); err != nil {
		return nil, err
	}
	if met.EngineRequests, err = m.Int64Counter("earshot.engine.requests",
		metric.WithDescription("Total recognition calls by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.EmptyResults, err = m.Int64Counter("earshot.results.empty",
		metric.WithDescription("Successful recognitions that produced no text."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("earshot.queue.drops",
		metric.WithDescription("Utterances shed by the transcription queue on overflow."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryAttempts, err = m.Int64Counter("earshot.delivery.attempts",
		metric.WithDescription("Total delivery attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryAbandons, err = m.Int64Counter("earshot.delivery.abandons",
		metric.WithDescription("Records handed to the pending store after exhausting attempts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("earshot.queue.depth",
		metric.WithDescription("Utterances waiting for transcription."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryBacklog, err = m.Int64UpDownCounter("earshot.delivery.backlog",
		metric.WithDescription("Records waiting for a delivery worker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance records an assembled utterance with its cut reason and
// audio length.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string, seconds float64) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.UtteranceDuration.Record(ctx, seconds)
}

// RecordEngineRequest records a recognition call with its latency and
// outcome.
func (m *Metrics) RecordEngineRequest(ctx context.Context, engine, status string, seconds float64) {
	m.EngineRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
	m.EngineDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}

// RecordDeliveryAttempt records one delivery attempt with its outcome.
func (m *Metrics) RecordDeliveryAttempt(ctx context.Context, status string) {
	m.DeliveryAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
