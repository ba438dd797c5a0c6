package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing the running agent.
const (
	AttrDevice     = attribute.Key("intakevox.device")
	AttrListenAddr = attribute.Key("intakevox.listen_addr")
)

// TelemetryConfig describes the agent to the telemetry backends.
type TelemetryConfig struct {
	// ServiceName defaults to "intakevox".
	ServiceName    string
	ServiceVersion string

	// Device is the configured capture device name (e.g., "malgo").
	Device string

	// ListenAddr is the control surface address.
	ListenAddr string

	// Registerer receives the Prometheus collector. nil uses
	// [prometheus.DefaultRegisterer], which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter receives finished spans. When nil, spans are sampled
	// for log correlation but never exported.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry holds the SDK providers of one agent process.
type Telemetry struct {
	Resource       *resource.Resource
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

// Setup builds the meter provider (bridged to Prometheus) and the tracer
// provider. Nothing is registered globally until [Telemetry.Install].
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "intakevox"
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	reader, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}

	return &Telemetry{
		Resource:       res,
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)),
		TracerProvider: sdktrace.NewTracerProvider(tpOpts...),
	}, nil
}

// newResource describes this agent instance. A partially detected resource
// is used as-is.
func newResource(ctx context.Context, cfg TelemetryConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceInstanceID(uuid.NewString()),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Device != "" {
		attrs = append(attrs, AttrDevice.String(cfg.Device))
	}
	if cfg.ListenAddr != "" {
		attrs = append(attrs, AttrListenAddr.String(cfg.ListenAddr))
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithOS(),
		resource.WithProcessRuntimeVersion(),
		resource.WithAttributes(attrs...),
	)
	switch {
	case errors.Is(err, resource.ErrPartialResource):
		slog.Warn("observe: partial telemetry resource", "err", err)
	case err != nil:
		return nil, fmt.Errorf("observe: resource: %w", err)
	}
	return res, nil
}

// Install registers the providers as the global OTel providers used by
// [Tracer] and [DefaultMetrics]. Call it before the first span or metric is
// created.
func (t *Telemetry) Install() {
	otel.SetMeterProvider(t.MeterProvider)
	otel.SetTracerProvider(t.TracerProvider)
}

// Metrics creates the intake instruments on the telemetry's meter provider.
func (t *Telemetry) Metrics() (*Metrics, error) {
	return NewMetrics(t.MeterProvider)
}

// Shutdown flushes pending spans, then stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.TracerProvider.Shutdown(ctx),
		t.MeterProvider.Shutdown(ctx),
	)
}
