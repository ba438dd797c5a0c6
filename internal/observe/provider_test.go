package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestSetup_Resource(t *testing.T) {
	t.Parallel()

	tel, err := Setup(context.Background(), TelemetryConfig{
		ServiceVersion: "1.2.3",
		Device:         "synth",
		ListenAddr:     "127.0.0.1:8750",
		Registerer:     prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	want := map[string]string{
		string(semconv.ServiceNameKey):    "intakevox",
		string(semconv.ServiceVersionKey): "1.2.3",
		string(AttrDevice):                "synth",
		string(AttrListenAddr):            "127.0.0.1:8750",
	}
	got := map[string]string{}
	for _, kv := range tel.Resource.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("resource %s = %q, want %q", k, got[k], v)
		}
	}
	if got[string(semconv.ServiceInstanceIDKey)] == "" {
		t.Error("resource has no service instance id")
	}
}

func TestSetup_MetricsReachRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	tel, err := Setup(context.Background(), TelemetryConfig{Device: "synth", Registerer: reg})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := tel.Metrics()
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	m.RecordRecording(context.Background(), "cough", "recorded", "accepted")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var recordings float64
	deviceLabel := ""
	for _, f := range families {
		switch name := f.GetName(); {
		case strings.HasPrefix(name, "intakevox_recordings"):
			for _, mt := range f.GetMetric() {
				recordings += mt.GetCounter().GetValue()
			}
		case name == "target_info":
			for _, lp := range f.GetMetric()[0].GetLabel() {
				if lp.GetName() == "intakevox_device" {
					deviceLabel = lp.GetValue()
				}
			}
		}
	}
	if recordings != 1 {
		t.Errorf("intakevox_recordings = %v, want 1", recordings)
	}
	if deviceLabel != "synth" {
		t.Errorf("target_info intakevox_device = %q, want synth", deviceLabel)
	}
}

func TestTelemetry_ExportsSpans(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	tel, err := Setup(context.Background(), TelemetryConfig{
		Registerer:    prometheus.NewRegistry(),
		TraceExporter: exp,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := tel.TracerProvider.Tracer(tracerName).Start(context.Background(), "intake.finalize")
	span.End()

	// The batcher holds the span until flushed.
	if err := tel.TracerProvider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "intake.finalize" {
		t.Fatalf("exported spans = %v, want intake.finalize", spans)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
