package synth

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/pkg/audio/decode"
	"github.com/MrWong99/intakevox/pkg/audio/wav"
	"github.com/MrWong99/intakevox/pkg/device"
)

// collector is a thread-safe sink.
type collector struct {
	mu     sync.Mutex
	chunks [][]byte
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 1024)}
}

func (c *collector) sink(b []byte) {
	cp := append([]byte(nil), b...)
	c.mu.Lock()
	c.chunks = append(c.chunks, cp)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out after %d of %d chunks", i, n)
		}
	}
}

func (c *collector) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.chunks...)
}

func TestOpen_PCM(t *testing.T) {
	t.Parallel()

	d := New(Config{SampleRate: 16000, Channels: 2, Waveform: Tone, ChunkDuration: 5 * time.Millisecond})
	c := newCollector()
	st, err := d.Open(context.Background(), d.DefaultMimeType(), c.sink)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.waitFor(t, 3)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	chunks := c.snapshot()
	// 5 ms at 16 kHz stereo = 80 frames * 2 channels * 2 bytes.
	for i, ch := range chunks {
		if len(ch) != 320 {
			t.Fatalf("chunk %d = %d bytes, want 320", i, len(ch))
		}
	}

	time.Sleep(20 * time.Millisecond)
	if after := c.snapshot(); len(after) != len(chunks) {
		t.Errorf("chunks delivered after Close: %d -> %d", len(chunks), len(after))
	}

	decoded, err := decode.NewRegistry().Decode(d.DefaultMimeType(), chunks)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.SampleRate != 16000 || decoded.NumChannels() != 2 {
		t.Errorf("decoded format = %d Hz x %d", decoded.SampleRate, decoded.NumChannels())
	}
}

func TestOpen_WAV(t *testing.T) {
	t.Parallel()

	d := New(Config{ChunkDuration: 5 * time.Millisecond})
	c := newCollector()
	st, err := d.Open(context.Background(), "audio/wav", c.sink)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.waitFor(t, 3)
	_ = st.Close()

	chunks := c.snapshot()
	if len(chunks[0]) != wav.HeaderSize {
		t.Fatalf("first chunk = %d bytes, want header", len(chunks[0]))
	}
	decoded, err := decode.NewRegistry().Decode("audio/wav", chunks)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.SampleRate != 48000 || decoded.NumChannels() != 1 {
		t.Errorf("decoded format = %d Hz x %d", decoded.SampleRate, decoded.NumChannels())
	}
	if want := 240 * (len(chunks) - 1); decoded.Len() != want {
		t.Errorf("frames = %d, want %d", decoded.Len(), want)
	}
}

func TestOpen_Opus(t *testing.T) {
	t.Parallel()

	d := New(Config{Waveform: Noise, ChunkDuration: 30 * time.Millisecond})
	c := newCollector()
	st, err := d.Open(context.Background(), "audio/opus", c.sink)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.waitFor(t, 2)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	chunks := c.snapshot()
	decoded, err := decode.NewRegistry().Decode("audio/opus", chunks)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Len() != 960*len(chunks) {
		t.Errorf("frames = %d, want %d", decoded.Len(), 960*len(chunks))
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fail error
	}{
		{"permission", capture.ErrPermissionDenied},
		{"unavailable", capture.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := New(Config{Fail: tt.fail})
			if _, err := d.Open(context.Background(), "audio/pcm", func([]byte) {}); !errors.Is(err, tt.fail) {
				t.Errorf("Open err = %v, want %v", err, tt.fail)
			}
			if err := d.Probe(context.Background()); !errors.Is(err, tt.fail) {
				t.Errorf("Probe err = %v, want %v", err, tt.fail)
			}
		})
	}

	d := New(Config{})
	if _, err := d.Open(context.Background(), "audio/mpeg", func([]byte) {}); err == nil {
		t.Error("Open(audio/mpeg) succeeded")
	}
	if err := d.Probe(context.Background()); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestSupports(t *testing.T) {
	t.Parallel()

	d := New(Config{SampleRate: 44100})
	for mt, want := range map[string]bool{
		"audio/wav":                       true,
		"audio/pcm":                       false,
		"audio/pcm;rate=44100":            true,
		"audio/opus":                      false,
		"audio/mpeg":                      false,
		"audio/pcm;channels=2;rate=44100": false,
	} {
		if got := d.Supports(mt); got != want {
			t.Errorf("Supports(%q) = %v, want %v", mt, got, want)
		}
	}
}

func TestGenerator(t *testing.T) {
	t.Parallel()

	g := newGenerator(Config{Waveform: Tone, Frequency: 1000, Amplitude: 1}, device.Format{SampleRate: 8000, Channels: 2})
	first := g.next(4)
	second := g.next(4)

	// 1 kHz at 8 kHz: 8 samples per cycle.
	want := []float64{0, math.Sqrt2 / 2, 1, math.Sqrt2 / 2, 0, -math.Sqrt2 / 2, -1, -math.Sqrt2 / 2}
	samples := append(first, second...)
	for i, w := range want {
		l, r := samples[2*i], samples[2*i+1]
		if l != r {
			t.Fatalf("frame %d: channels differ (%d, %d)", i, l, r)
		}
		if exp := int16(math.Round(w * math.MaxInt16)); l != exp {
			t.Errorf("frame %d = %d, want %d", i, l, exp)
		}
	}

	silent := newGenerator(Config{Waveform: Silence}, device.Format{SampleRate: 8000, Channels: 1})
	for _, s := range silent.next(16) {
		if s != 0 {
			t.Fatalf("silence produced %d", s)
		}
	}
}

func TestConfigFromOptions(t *testing.T) {
	t.Parallel()

	cfg, err := ConfigFromOptions(48000, 1, map[string]any{
		"waveform":  "tone",
		"frequency": 220,
		"amplitude": 0.1,
		"chunk":     "20ms",
		"fail":      "permission_denied",
	})
	if err != nil {
		t.Fatalf("ConfigFromOptions: %v", err)
	}
	if cfg.Waveform != Tone || cfg.Frequency != 220 || cfg.Amplitude != 0.1 || cfg.ChunkDuration != 20*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if !errors.Is(cfg.Fail, capture.ErrPermissionDenied) {
		t.Errorf("Fail = %v", cfg.Fail)
	}

	bad := []map[string]any{
		{"waveform": "square"},
		{"amplitude": 2},
		{"fail": "sometimes"},
		{"volume": 1},
	}
	for _, opts := range bad {
		if _, err := ConfigFromOptions(48000, 1, opts); !errors.Is(err, device.ErrInvalidOption) {
			t.Errorf("ConfigFromOptions(%v) err = %v, want ErrInvalidOption", opts, err)
		}
	}
}
