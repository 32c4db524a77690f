// Package observe provides the observability primitives shared by the
// minutes binaries: OpenTelemetry metrics, tracing, trace-aware logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// to Prometheus by [InitProvider]; [MetricsHandler] serves them on /metrics.
// A package-level [DefaultMetrics] instance is provided for convenience;
// tests should use [NewMetrics] with their own [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every minutes metric.
const meterName = "github.com/MrWong99/minutes"

// Metrics holds the OpenTelemetry instruments of the application. All
// fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// RecognizeDuration tracks speech recognition latency per call.
	RecognizeDuration metric.Float64Histogram

	// LLMDuration tracks completion latency for note enhancement, chat and
	// transcript verification.
	LLMDuration metric.Float64Histogram

	// EmbedDuration tracks embedding latency while indexing and searching
	// transcripts.
	EmbedDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts backend calls. Attributes: provider, kind,
	// status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// AudioChunks counts audio frames received on streaming sessions.
	AudioChunks metric.Int64Counter

	// TranscriptFrames counts cumulative transcripts sent to streaming
	// clients.
	TranscriptFrames metric.Int64Counter

	// Corrections counts transcript corrections. Attribute: method.
	Corrections metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// backend, to.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks open streaming transcription sessions.
	ActiveStreams metric.Int64UpDownCounter

	// ActiveRecordings tracks recordings in progress.
	ActiveRecordings metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds. Batch recognition of
// an hour-long meeting lands in the upper buckets.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.RecognizeDuration, "minutes.recognize.duration", "Latency of speech recognition."},
		{&met.LLMDuration, "minutes.llm.duration", "Latency of LLM completions."},
		{&met.EmbedDuration, "minutes.embed.duration", "Latency of embedding requests."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("minutes.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "minutes.provider.requests", "Backend requests by provider, kind and status."},
		{&met.ProviderErrors, "minutes.provider.errors", "Backend errors by provider and kind."},
		{&met.AudioChunks, "minutes.stream.audio_chunks", "Audio frames received on streaming sessions."},
		{&met.TranscriptFrames, "minutes.stream.transcripts", "Transcript frames sent to streaming clients."},
		{&met.Corrections, "minutes.transcript.corrections", "Transcript corrections by method."},
		{&met.BreakerTransitions, "minutes.breaker.transitions", "Circuit breaker state changes by backend and target state."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveStreams, err = m.Int64UpDownCounter("minutes.stream.active",
		metric.WithDescription("Open streaming transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("minutes.recordings.active",
		metric.WithDescription("Recordings in progress."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from [otel.GetMeterProvider]. Call [InitProvider] first if
// the instruments should be exported.
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

// MetricsHandler serves the Prometheus exposition of every instrument
// registered through [InitProvider].
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one backend call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCorrections counts n corrections made by method.
func (m *Metrics) RecordCorrections(ctx context.Context, method string, n int) {
	if n <= 0 {
		return
	}
	m.Corrections.Add(ctx, int64(n), metric.WithAttributes(attribute.String("method", method)))
}

// RecordBreakerTransition counts a circuit breaker entering state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("to", to),
		),
	)
}
