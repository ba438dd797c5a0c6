package malgo

import (
	"context"
	"errors"
	"testing"
	"time"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/pkg/device"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	other := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"access denied", ma.ErrAccessDenied, capture.ErrPermissionDenied},
		{"no device", ma.ErrNoDevice, capture.ErrDeviceUnavailable},
		{"does not exist", ma.ErrDoesNotExist, capture.ErrDeviceUnavailable},
		{"no backend", ma.ErrNoBackend, capture.ErrDeviceUnavailable},
		{"open backend", ma.ErrFailedToOpenBackendDevice, capture.ErrDeviceUnavailable},
		{"busy", ma.ErrBusy, capture.ErrDeviceBusy},
		{"other", other, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mapError("init device", tt.err)
			if !errors.Is(got, tt.err) {
				t.Errorf("mapError lost the cause: %v", got)
			}
			if tt.want != nil && !errors.Is(got, tt.want) {
				t.Errorf("mapError(%v) = %v, want wrapping %v", tt.err, got, tt.want)
			}
			if tt.want == nil && (errors.Is(got, capture.ErrPermissionDenied) || errors.Is(got, capture.ErrDeviceUnavailable)) {
				t.Errorf("mapError(%v) = %v, want no capture sentinel", tt.err, got)
			}
		})
	}
}

func TestDevice_Formats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		def      string
		supports map[string]bool
	}{
		{
			name: "defaults",
			cfg:  Config{},
			def:  "audio/pcm; channels=1; rate=48000",
			supports: map[string]bool{
				"audio/pcm":  true,
				"audio/opus": true,
				"audio/wav":  false,
				"audio/mpeg": false,
			},
		},
		{
			name: "cd stereo",
			cfg:  Config{SampleRate: 44100, Channels: 2},
			def:  "audio/pcm; channels=2; rate=44100",
			supports: map[string]bool{
				"audio/pcm":                       false,
				"audio/pcm;rate=44100;channels=2": true,
				"audio/opus":                      false,
				"audio/opus;channels=2":           false,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := New(tt.cfg)
			if d.Name() != Name {
				t.Errorf("Name = %q", d.Name())
			}
			if got := d.DefaultMimeType(); got != tt.def {
				t.Errorf("DefaultMimeType = %q, want %q", got, tt.def)
			}
			if !d.Supports(d.DefaultMimeType()) {
				t.Error("device does not support its own default type")
			}
			for mt, want := range tt.supports {
				if got := d.Supports(mt); got != want {
					t.Errorf("Supports(%q) = %v, want %v", mt, got, want)
				}
			}
		})
	}
}

func TestOpen_RejectsBeforeTouchingBackend(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	if _, err := d.Open(context.Background(), "audio/mpeg", func([]byte) {}); err == nil {
		t.Error("Open(audio/mpeg) succeeded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Open(ctx, "audio/pcm", func([]byte) {}); !errors.Is(err, context.Canceled) {
		t.Errorf("Open with cancelled ctx err = %v", err)
	}
	if err := d.Probe(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Probe with cancelled ctx err = %v", err)
	}
}

func TestConfigFromOptions(t *testing.T) {
	t.Parallel()

	cfg, err := ConfigFromOptions(16000, 1, map[string]any{"input": "USB", "period": "10ms"})
	if err != nil {
		t.Fatalf("ConfigFromOptions: %v", err)
	}
	want := Config{SampleRate: 16000, Channels: 1, Input: "USB", Period: 10 * time.Millisecond}
	if cfg != want {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}

	if _, err := ConfigFromOptions(0, 0, map[string]any{"gain": 2}); !errors.Is(err, device.ErrInvalidOption) {
		t.Errorf("unknown option err = %v", err)
	}
	if _, err := ConfigFromOptions(0, 0, map[string]any{"period": 10}); !errors.Is(err, device.ErrInvalidOption) {
		t.Errorf("numeric period err = %v", err)
	}
}
