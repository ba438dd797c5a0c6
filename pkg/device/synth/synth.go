// Package synth is a capture device that generates its own signal. It stands
// in for a microphone on headless hosts, in CI and in end-to-end tests.
//
// The device emits one chunk per ChunkDuration of wall-clock time, so a
// five second recording yields five seconds of audio.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/pkg/audio"
	"github.com/MrWong99/intakevox/pkg/audio/mime"
	"github.com/MrWong99/intakevox/pkg/audio/opus"
	"github.com/MrWong99/intakevox/pkg/audio/wav"
	"github.com/MrWong99/intakevox/pkg/device"
)

// Name is the registry name of the synthetic device.
const Name = "synth"

// Waveform selects the generated signal.
type Waveform string

const (
	Silence Waveform = "silence"
	Tone    Waveform = "tone"
	Noise   Waveform = "noise"
)

// Defaults applied by [New].
const (
	DefaultFrequency     = 440.0
	DefaultAmplitude     = 0.5
	DefaultChunkDuration = 100 * time.Millisecond
)

// Config configures the synthetic device.
type Config struct {
	SampleRate int
	Channels   int

	Waveform  Waveform
	Frequency float64
	Amplitude float64

	// ChunkDuration is the audio length of each emitted chunk and the
	// pacing interval.
	ChunkDuration time.Duration

	// Fail makes Open and Probe fail with the given error. It lets the
	// permission and missing-device paths be exercised without hardware.
	Fail error
}

// Failure names accepted by the "fail" option.
const (
	FailPermissionDenied = "permission_denied"
	FailUnavailable      = "unavailable"
	FailBusy             = "busy"
)

// ConfigFromOptions builds a Config from the generic device config. The
// recognised options are "waveform", "frequency", "amplitude", "chunk" and
// "fail".
func ConfigFromOptions(sampleRate, channels int, opts map[string]any) (Config, error) {
	if err := device.CheckOptions(opts, "waveform", "frequency", "amplitude", "chunk", "fail"); err != nil {
		return Config{}, err
	}
	wf, err := device.StringOption(opts, "waveform", string(Silence))
	if err != nil {
		return Config{}, err
	}
	freq, err := device.FloatOption(opts, "frequency", DefaultFrequency)
	if err != nil {
		return Config{}, err
	}
	amp, err := device.FloatOption(opts, "amplitude", DefaultAmplitude)
	if err != nil {
		return Config{}, err
	}
	chunk, err := device.DurationOption(opts, "chunk", DefaultChunkDuration)
	if err != nil {
		return Config{}, err
	}
	failName, err := device.StringOption(opts, "fail", "")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		SampleRate:    sampleRate,
		Channels:      channels,
		Waveform:      Waveform(wf),
		Frequency:     freq,
		Amplitude:     amp,
		ChunkDuration: chunk,
	}
	switch failName {
	case "":
	case FailPermissionDenied:
		cfg.Fail = capture.ErrPermissionDenied
	case FailUnavailable:
		cfg.Fail = capture.ErrDeviceUnavailable
	case FailBusy:
		cfg.Fail = capture.ErrDeviceBusy
	default:
		return Config{}, fmt.Errorf("%w: fail must be one of %s, %s, %s; got %q",
			device.ErrInvalidOption, FailPermissionDenied, FailUnavailable, FailBusy, failName)
	}
	return cfg, cfg.Validate()
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	switch c.Waveform {
	case "", Silence, Tone, Noise:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown waveform %q", device.ErrInvalidOption, c.Waveform))
	}
	if c.Frequency < 0 {
		errs = append(errs, fmt.Errorf("%w: frequency must not be negative", device.ErrInvalidOption))
	}
	if c.Amplitude < 0 || c.Amplitude > 1 {
		errs = append(errs, fmt.Errorf("%w: amplitude must be in [0, 1]", device.ErrInvalidOption))
	}
	if c.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("%w: chunk must not be negative", device.ErrInvalidOption))
	}
	return errors.Join(errs...)
}

// Device is a [capture.Device] producing a synthetic signal.
type Device struct {
	cfg    Config
	format device.Format
}

// New returns a synthetic device. Zero fields take the package defaults.
func New(cfg Config) *Device {
	if cfg.Waveform == "" {
		cfg.Waveform = Silence
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = DefaultFrequency
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = DefaultAmplitude
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	return &Device{
		cfg:    cfg,
		format: device.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}.WithDefaults(),
	}
}

// Name implements [capture.Device].
func (d *Device) Name() string { return Name }

// Supports implements [capture.Device].
func (d *Device) Supports(mimeType string) bool {
	switch mime.Base(mimeType) {
	case mime.PCM, mime.WAV, mime.Opus:
		return d.format.Compatible(mimeType)
	}
	return false
}

// DefaultMimeType implements [capture.Device].
func (d *Device) DefaultMimeType() string { return d.format.PCMType() }

// Probe implements the readiness probe. It only fails when the device is
// configured to.
func (d *Device) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.cfg.Fail != nil {
		return fmt.Errorf("synth: %w", d.cfg.Fail)
	}
	return nil
}

// Open implements [capture.Device]. Chunks are delivered from a goroutine
// owned by the returned stream.
func (d *Device) Open(ctx context.Context, mimeType string, sink func([]byte)) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.cfg.Fail != nil {
		return nil, fmt.Errorf("synth: %w", d.cfg.Fail)
	}
	if !d.Supports(mimeType) {
		return nil, fmt.Errorf("synth: unsupported mime type %q", mimeType)
	}

	s := &stream{
		gen:  newGenerator(d.cfg, d.format),
		emit: sink,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	switch mime.Base(mimeType) {
	case mime.WAV:
		sink(wav.StreamHeader(d.format.SampleRate, d.format.Channels))
	case mime.Opus:
		pk, err := opus.NewPacketizer(d.format.Channels, sink)
		if err != nil {
			return nil, fmt.Errorf("synth: %w", err)
		}
		s.packetizer = pk
	}

	frames := int(int64(d.format.SampleRate) * int64(d.cfg.ChunkDuration) / int64(time.Second))
	go s.run(max(frames, 1), d.cfg.ChunkDuration)

	slog.Debug("synth: capture started", "mime_type", mimeType, "waveform", d.cfg.Waveform,
		"sample_rate", d.format.SampleRate, "channels", d.format.Channels)
	return s, nil
}

type stream struct {
	gen        *generator
	emit       func([]byte)
	packetizer *opus.Packetizer

	quit chan struct{}
	done chan struct{}
	once sync.Once
	err  error
}

func (s *stream) run(frames int, every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.write(s.gen.next(frames))
		}
	}
}

func (s *stream) write(pcm []int16) {
	if s.packetizer == nil {
		s.emit(audio.Int16sToBytes(pcm))
		return
	}
	if err := s.packetizer.Write(pcm); err != nil {
		slog.Warn("synth: opus packetizer dropped audio", "err", err)
	}
}

// Close stops generation and waits for the goroutine to exit, so no chunk is
// delivered after it returns.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.quit)
		<-s.done
		if s.packetizer != nil {
			if err := s.packetizer.Flush(); err != nil {
				s.err = fmt.Errorf("synth: flush: %w", err)
			}
		}
	})
	return s.err
}

// generator produces interleaved samples with a continuous phase across
// chunks.
type generator struct {
	waveform  Waveform
	amplitude float64
	step      float64
	channels  int
	phase     float64
	rng       *rand.Rand
}

func newGenerator(cfg Config, f device.Format) *generator {
	return &generator{
		waveform:  cfg.Waveform,
		amplitude: cfg.Amplitude,
		step:      2 * math.Pi * cfg.Frequency / float64(f.SampleRate),
		channels:  f.Channels,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
}

func (g *generator) next(frames int) []int16 {
	out := make([]int16, frames*g.channels)
	if g.waveform == Silence {
		return out
	}
	for i := range frames {
		var v float64
		switch g.waveform {
		case Tone:
			v = math.Sin(g.phase)
			g.phase += g.step
			if g.phase >= 2*math.Pi {
				g.phase -= 2 * math.Pi
			}
		case Noise:
			v = g.rng.Float64()*2 - 1
		}
		sample := int16(math.Round(v * g.amplitude * math.MaxInt16))
		for c := range g.channels {
			out[i*g.channels+c] = sample
		}
	}
	return out
}
