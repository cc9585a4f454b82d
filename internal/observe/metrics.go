// Package observe provides application-wide observability primitives for
// castbox: OpenTelemetry metrics and distributed tracing.
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

// meterName is the instrumentation scope name used for all castbox metrics.
const meterName = "github.com/MrWong99/castbox"

// Metrics holds all OpenTelemetry metric instruments for the ingestion
// pipeline. All fields are safe for concurrent use — the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// FetchDuration tracks audio download latency.
	FetchDuration metric.Float64Histogram

	// ASRDuration tracks speech-to-text transcription latency.
	ASRDuration metric.Float64Histogram

	// DiarizeDuration tracks diarization latency.
	DiarizeDuration metric.Float64Histogram

	// AttributeDuration tracks speaker-attribution latency.
	AttributeDuration metric.Float64Histogram

	// EmbedDuration tracks text-embedding latency.
	EmbedDuration metric.Float64Histogram

	// VoiceEmbedDuration tracks voice-embedding extraction latency.
	VoiceEmbedDuration metric.Float64Histogram

	// WriteDuration tracks persistence-writer latency.
	WriteDuration metric.Float64Histogram

	// --- Counters ---

	// VideosCompleted counts sources that reached status=done.
	VideosCompleted metric.Int64Counter

	// VideosErrored counts sources that reached status=error, by kind.
	// Use with attribute.String("kind", ...).
	VideosErrored metric.Int64Counter

	// VideosSkipped counts sources skipped because they were already done.
	VideosSkipped metric.Int64Counter

	// SegmentsEmbedded counts text embeddings written, by model_key.
	SegmentsEmbedded metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveWorkers tracks the number of currently busy stage workers, by
	// attribute.String("stage", ...).
	ActiveWorkers metric.Int64UpDownCounter

	// QueueDepth tracks the number of items waiting in a stage's input
	// queue, by attribute.String("stage", ...).
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// sub-second provider round trips up to multi-minute batch ASR/diarization
// runs on long videos.
var latencyBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FetchDuration, err = m.Float64Histogram("castbox.fetch.duration",
		metric.WithDescription("Latency of audio download and conversion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = m.Float64Histogram("castbox.asr.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiarizeDuration, err = m.Float64Histogram("castbox.diarize.duration",
		metric.WithDescription("Latency of speaker diarization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AttributeDuration, err = m.Float64Histogram("castbox.attribute.duration",
		metric.WithDescription("Latency of speaker attribution against voice profiles."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("castbox.embed.duration",
		metric.WithDescription("Latency of text-embedding generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VoiceEmbedDuration, err = m.Float64Histogram("castbox.voice_embed.duration",
		metric.WithDescription("Latency of voice-embedding extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WriteDuration, err = m.Float64Histogram("castbox.write.duration",
		metric.WithDescription("Latency of persistence-writer transactions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.VideosCompleted, err = m.Int64Counter("castbox.videos.completed",
		metric.WithDescription("Total sources that reached status=done."),
	); err != nil {
		return nil, err
	}
	if met.VideosErrored, err = m.Int64Counter("castbox.videos.errored",
		metric.WithDescription("Total sources that reached status=error, by kind."),
	); err != nil {
		return nil, err
	}
	if met.VideosSkipped, err = m.Int64Counter("castbox.videos.skipped",
		metric.WithDescription("Total sources skipped because they were already done."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmbedded, err = m.Int64Counter("castbox.segments.embedded",
		metric.WithDescription("Total text embeddings written, by model_key."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("castbox.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("castbox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveWorkers, err = m.Int64UpDownCounter("castbox.active_workers",
		metric.WithDescription("Number of currently busy stage workers, by stage."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("castbox.queue_depth",
		metric.WithDescription("Number of items waiting in a stage's input queue, by stage."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordVideoErrored is a convenience method that records a source-level
// failure counter increment by error kind (matches the §7 error taxonomy).
func (m *Metrics) RecordVideoErrored(ctx context.Context, kind string) {
	m.VideosErrored.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSegmentsEmbedded is a convenience method that records the number of
// embeddings written for a given model key.
func (m *Metrics) RecordSegmentsEmbedded(ctx context.Context, modelKey string, n int64) {
	m.SegmentsEmbedded.Add(ctx, n, metric.WithAttributes(attribute.String("model_key", modelKey)))
}
