// Package observe provides observability plumbing: OTel metric
// instruments, tracing helpers, SDK provider setup with a Prometheus bridge,
// and HTTP middleware for request telemetry.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter (see [InitProvider]) bridges them to a /metrics endpoint without
// a separate metrics registry. A package-level [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid global state.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all DykScribe metrics.
const meterName = "github.com/vdrs/dykscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. The Record/Observe helpers are additionally
// nil-receiver-safe so components can hold an optional *Metrics.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text latency for one recording.
	TranscriptionDuration metric.Float64Histogram

	// StructuringDuration tracks Q&A structuring (LLM) latency.
	StructuringDuration metric.Float64Histogram

	// EmbeddingDuration tracks Q&A embedding latency.
	EmbeddingDuration metric.Float64Histogram

	// PersistDuration tracks store insert latency including blob transfer.
	PersistDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Submissions counts completed pipeline runs. Use with attributes:
	//   attribute.String("path", "audio"|"typed"), attribute.String("status", ...)
	Submissions metric.Int64Counter

	// DraftTransitions counts draft state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	DraftTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the submission pipeline, where transcribing a long recording can take well
// over a minute.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("dykscribe.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription per recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StructuringDuration, err = m.Float64Histogram("dykscribe.structuring.duration",
		metric.WithDescription("Latency of Q&A structuring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("dykscribe.embedding.duration",
		metric.WithDescription("Latency of Q&A embedding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PersistDuration, err = m.Float64Histogram("dykscribe.persist.duration",
		metric.WithDescription("Latency of the store insert including blobs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("dykscribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Submissions, err = m.Int64Counter("dykscribe.submissions",
		metric.WithDescription("Total completed pipeline runs by input path and status."),
	); err != nil {
		return nil, err
	}
	if met.DraftTransitions, err = m.Int64Counter("dykscribe.draft.transitions",
		metric.WithDescription("Total draft state transitions by from and to state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("dykscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dykscribe.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dykscribe.http.request.duration",
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

// ObserveTranscription records one transcription stage duration.
func (m *Metrics) ObserveTranscription(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// ObserveStructuring records one structuring stage duration.
func (m *Metrics) ObserveStructuring(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.StructuringDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// ObserveEmbedding records one embedding stage duration.
func (m *Metrics) ObserveEmbedding(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.EmbeddingDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// ObservePersist records one store insert duration.
func (m *Metrics) ObservePersist(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.PersistDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordSubmission records one completed pipeline run.
func (m *Metrics) RecordSubmission(ctx context.Context, path, status string) {
	if m == nil {
		return
	}
	m.Submissions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("path", path),
			attribute.String("status", status),
		),
	)
}

// RecordTransition records one draft state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.DraftTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// AddActiveSessions adjusts the live session gauge by delta.
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}
