// Package observe provides application-wide observability primitives for
// intakevox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [Setup] so that metrics can be
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

// meterName is the instrumentation scope name used for all intakevox metrics.
const meterName = "github.com/MrWong99/intakevox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// CaptureDuration tracks the finalized length of capture sessions in
	// seconds. Use with attribute:
	//   attribute.String("category", ...)
	CaptureDuration metric.Float64Histogram

	// ConversionDuration tracks decode + resample + encode latency. Use with
	// attributes:
	//   attribute.String("mime", ...), attribute.String("status", ...)
	ConversionDuration metric.Float64Histogram

	// --- Counters ---

	// Recordings counts finalized recordings and uploads. Use with attributes:
	//   attribute.String("category", ...), attribute.String("source", ...),
	//   attribute.String("verdict", ...)
	Recordings metric.Int64Counter

	// AutoStops counts sessions ended by the auto-stop ceiling. Use with
	// attribute:
	//   attribute.String("category", ...)
	AutoStops metric.Int64Counter

	// --- Error counters ---

	// CaptureErrors counts failed intake operations. Use with attributes:
	//   attribute.String("category", ...), attribute.String("kind", ...)
	CaptureErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of sessions currently holding the
	// input device.
	ActiveCaptures metric.Int64UpDownCounter

	// PublishedHandles tracks the number of live playable references.
	PublishedHandles metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// in-process conversion work.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// captureBuckets covers recordings from sub-minimum to the auto-stop ceiling.
var captureBuckets = []float64{
	1, 2, 3, 5, 10, 15, 20, 25, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("intakevox.capture.duration",
		metric.WithDescription("Length of finalized capture sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(captureBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConversionDuration, err = m.Float64Histogram("intakevox.conversion.duration",
		metric.WithDescription("Latency of decoding, resampling and WAV encoding a recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Recordings, err = m.Int64Counter("intakevox.recordings",
		metric.WithDescription("Total finalized recordings by category, source, and verdict."),
	); err != nil {
		return nil, err
	}
	if met.AutoStops, err = m.Int64Counter("intakevox.capture.auto_stops",
		metric.WithDescription("Total capture sessions ended by the auto-stop ceiling."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CaptureErrors, err = m.Int64Counter("intakevox.capture.errors",
		metric.WithDescription("Total intake failures by category and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("intakevox.active_captures",
		metric.WithDescription("Number of capture sessions currently holding the input device."),
	); err != nil {
		return nil, err
	}
	if met.PublishedHandles, err = m.Int64UpDownCounter("intakevox.published_handles",
		metric.WithDescription("Number of live playable references."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("intakevox.http.request.duration",
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

// RecordRecording records one finalized recording or upload.
func (m *Metrics) RecordRecording(ctx context.Context, category, source, verdict string) {
	m.Recordings.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("category", category),
			attribute.String("source", source),
			attribute.String("verdict", verdict),
		),
	)
}

// RecordCaptureError records one intake failure.
func (m *Metrics) RecordCaptureError(ctx context.Context, category, kind string) {
	m.CaptureErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("category", category),
			attribute.String("kind", kind),
		),
	)
}

// RecordConversion records the latency of one conversion attempt.
func (m *Metrics) RecordConversion(ctx context.Context, mimeType, status string, seconds float64) {
	m.ConversionDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("mime", mimeType),
			attribute.String("status", status),
		),
	)
}

// RecordCapture records the length of a finalized capture and, when it hit
// the ceiling, an auto-stop.
func (m *Metrics) RecordCapture(ctx context.Context, category string, seconds float64, autoStopped bool) {
	attrs := metric.WithAttributes(attribute.String("category", category))
	m.CaptureDuration.Record(ctx, seconds, attrs)
	if autoStopped {
		m.AutoStops.Add(ctx, 1, attrs)
	}
}
