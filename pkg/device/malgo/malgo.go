// Package malgo captures from the host microphone through miniaudio.
//
// The device records 16-bit interleaved PCM and either hands the raw
// callback buffers to the session ("audio/pcm") or packs them into 20 ms
// Opus packets ("audio/opus", 48 kHz only). A fresh miniaudio context is
// allocated per stream so that a device plugged in after start-up is seen
// by the next recording.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/pkg/audio"
	"github.com/MrWong99/intakevox/pkg/audio/mime"
	"github.com/MrWong99/intakevox/pkg/audio/opus"
	"github.com/MrWong99/intakevox/pkg/device"
)

// Name is the registry name of the microphone device.
const Name = "malgo"

// Config configures the microphone device.
type Config struct {
	// SampleRate and Channels are requested from the backend. Zero values
	// default to 48 kHz mono.
	SampleRate int
	Channels   int

	// Input selects the capture device whose name contains this string,
	// ignoring case. Empty selects the system default input.
	Input string

	// Period is the callback period. Zero lets the backend choose.
	Period time.Duration
}

// ConfigFromOptions builds a Config from the generic device config. The
// recognised options are "input" and "period".
func ConfigFromOptions(sampleRate, channels int, opts map[string]any) (Config, error) {
	if err := device.CheckOptions(opts, "input", "period"); err != nil {
		return Config{}, err
	}
	input, err := device.StringOption(opts, "input", "")
	if err != nil {
		return Config{}, err
	}
	period, err := device.DurationOption(opts, "period", 0)
	if err != nil {
		return Config{}, err
	}
	return Config{
		SampleRate: sampleRate,
		Channels:   channels,
		Input:      input,
		Period:     period,
	}, nil
}

// Device is a [capture.Device] backed by the host microphone.
type Device struct {
	cfg    Config
	format device.Format
	log    *slog.Logger
}

// Option configures a [Device].
type Option func(*Device)

// WithLogger sets the logger for backend messages. The default is
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// New returns a microphone device. No backend resources are held until
// [Device.Open] or [Device.Probe].
func New(cfg Config, opts ...Option) *Device {
	d := &Device{
		cfg:    cfg,
		format: device.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}.WithDefaults(),
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("device", Name)
	return d
}

// Name implements [capture.Device].
func (d *Device) Name() string { return Name }

// Supports implements [capture.Device].
func (d *Device) Supports(mimeType string) bool {
	switch mime.Base(mimeType) {
	case mime.PCM, mime.Opus:
		return d.format.Compatible(mimeType)
	}
	return false
}

// DefaultMimeType implements [capture.Device].
func (d *Device) DefaultMimeType() string { return d.format.PCMType() }

// Format returns the PCM layout requested from the backend.
func (d *Device) Format() device.Format { return d.format }

// Probe verifies that the backend initialises and lists at least one
// capture device. It does not open a stream.
func (d *Device) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	actx, err := d.initContext()
	if err != nil {
		return err
	}
	defer freeContext(actx)
	_, err = d.selectInput(actx)
	return err
}

// Open implements [capture.Device].
func (d *Device) Open(ctx context.Context, mimeType string, sink func([]byte)) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.Supports(mimeType) {
		return nil, fmt.Errorf("malgo: unsupported mime type %q", mimeType)
	}

	s := &stream{log: d.log, write: sink}
	if mime.Base(mimeType) == mime.Opus {
		pk, err := opus.NewPacketizer(d.format.Channels, sink)
		if err != nil {
			return nil, fmt.Errorf("malgo: %w", err)
		}
		s.packetizer = pk
		s.write = s.writeOpus
	}

	actx, err := d.initContext()
	if err != nil {
		return nil, err
	}
	input, err := d.selectInput(actx)
	if err != nil {
		freeContext(actx)
		return nil, err
	}

	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS16
	cfg.Capture.Channels = uint32(d.format.Channels)
	cfg.SampleRate = uint32(d.format.SampleRate)
	if d.cfg.Period > 0 {
		cfg.PeriodSizeInMilliseconds = uint32(d.cfg.Period.Milliseconds())
	}
	if input != nil {
		cfg.Capture.DeviceID = input.ID.Pointer()
	}

	dev, err := ma.InitDevice(actx.Context, cfg, ma.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		freeContext(actx)
		return nil, mapError("init device", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(actx)
		return nil, mapError("start device", err)
	}
	s.dev = dev
	s.actx = actx

	name := "default"
	if input != nil {
		name = input.Name()
	}
	d.log.Debug("capture started", "input", name, "mime_type", mimeType,
		"sample_rate", d.format.SampleRate, "channels", d.format.Channels)
	return s, nil
}

func (d *Device) initContext() (*ma.AllocatedContext, error) {
	actx, err := ma.InitContext(nil, ma.ContextConfig{}, func(msg string) {
		d.log.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, mapError("init context", err)
	}
	return actx, nil
}

// selectInput returns the configured input, or nil for the system default.
// It fails when the backend reports no capture devices at all.
func (d *Device) selectInput(actx *ma.AllocatedContext) (*ma.DeviceInfo, error) {
	infos, err := actx.Devices(ma.Capture)
	if err != nil {
		return nil, mapError("enumerate devices", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("malgo: %w", capture.ErrDeviceUnavailable)
	}
	if d.cfg.Input == "" {
		return nil, nil
	}
	want := strings.ToLower(d.cfg.Input)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("malgo: no input matching %q: %w", d.cfg.Input, capture.ErrDeviceUnavailable)
}

func freeContext(actx *ma.AllocatedContext) {
	_ = actx.Uninit()
	actx.Free()
}

// stream is an open capture. The data callback runs on a miniaudio thread;
// closed guards against callbacks racing Close.
type stream struct {
	log        *slog.Logger
	write      func([]byte)
	packetizer *opus.Packetizer

	dev  *ma.Device
	actx *ma.AllocatedContext

	mu     sync.Mutex
	closed bool
	once   sync.Once
	err    error
}

func (s *stream) onData(_, input []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(input) == 0 {
		return
	}
	s.write(input)
}

func (s *stream) writeOpus(pcm []byte) {
	if err := s.packetizer.Write(audio.BytesToInt16s(pcm)); err != nil {
		s.log.Warn("opus packetizer dropped audio", "err", err)
	}
}

func (s *stream) onStop() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.log.Warn("capture device stopped unexpectedly")
	}
}

// Close stops the device, flushes a partial Opus frame and releases the
// backend. It is safe to call more than once.
func (s *stream) Close() error {
	s.once.Do(func() {
		var errs []error
		if err := s.dev.Stop(); err != nil {
			errs = append(errs, mapError("stop device", err))
		}

		s.mu.Lock()
		s.closed = true
		if s.packetizer != nil {
			if err := s.packetizer.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("malgo: flush: %w", err))
			}
		}
		s.mu.Unlock()

		s.dev.Uninit()
		freeContext(s.actx)
		s.err = errors.Join(errs...)
	})
	return s.err
}

// mapError translates miniaudio results into the capture sentinels.
func mapError(op string, err error) error {
	var sentinel error
	switch {
	case errors.Is(err, ma.ErrAccessDenied):
		sentinel = capture.ErrPermissionDenied
	case errors.Is(err, ma.ErrNoDevice),
		errors.Is(err, ma.ErrDoesNotExist),
		errors.Is(err, ma.ErrNoBackend),
		errors.Is(err, ma.ErrDeviceTypeNotSupported),
		errors.Is(err, ma.ErrUnavailable),
		errors.Is(err, ma.ErrFailedToOpenBackendDevice):
		sentinel = capture.ErrDeviceUnavailable
	case errors.Is(err, ma.ErrBusy):
		sentinel = capture.ErrDeviceBusy
	default:
		return fmt.Errorf("malgo: %s: %w", op, err)
	}
	return fmt.Errorf("malgo: %s: %w: %w", op, sentinel, err)
}
