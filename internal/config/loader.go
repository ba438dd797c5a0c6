package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/internal/gate"
	"github.com/MrWong99/intakevox/internal/output"
	"github.com/MrWong99/intakevox/pkg/audio/mime"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = "127.0.0.1:8765"
	DefaultDeviceName    = "malgo"
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
)

// KnownDeviceNames lists the device names shipped with intakevox. Used by
// [Validate] to warn about unrecognised device names.
var KnownDeviceNames = []string{"malgo", "synth"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg. Steps inherit min_duration
// and auto_stop from the capture section when they leave them at zero.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogMaxSizeMB == 0 {
		cfg.Server.LogMaxSizeMB = DefaultLogMaxSizeMB
	}
	if cfg.Server.LogMaxBackups == 0 {
		cfg.Server.LogMaxBackups = DefaultLogMaxBackups
	}

	if cfg.Device.Name == "" {
		cfg.Device.Name = DefaultDeviceName
	}

	if len(cfg.Capture.MimeCandidates) == 0 {
		cfg.Capture.MimeCandidates = slices.Clone(mime.DefaultCandidates)
	}
	if cfg.Capture.TickInterval == 0 {
		cfg.Capture.TickInterval = capture.DefaultTickInterval
	}
	if cfg.Capture.AutoStop == 0 {
		cfg.Capture.AutoStop = capture.DefaultAutoStop
	}
	if cfg.Capture.MinDuration == 0 {
		cfg.Capture.MinDuration = gate.DefaultMinimum
	}

	if len(cfg.Steps) == 0 {
		cfg.Steps = DefaultSteps()
	}
	for i := range cfg.Steps {
		s := &cfg.Steps[i]
		if s.MinDuration == 0 {
			s.MinDuration = cfg.Capture.MinDuration
		}
		if s.AutoStop == 0 {
			s.AutoStop = cfg.Capture.AutoStop
		}
	}

	if cfg.Output.MaxHandles == 0 {
		cfg.Output.MaxHandles = output.DefaultMaxHandles
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogMaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("server.log_max_size_mb %d must not be negative", cfg.Server.LogMaxSizeMB))
	}
	if cfg.Server.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("server.log_max_backups %d must not be negative", cfg.Server.LogMaxBackups))
	}

	// Device
	if cfg.Device.Name != "" && !slices.Contains(KnownDeviceNames, cfg.Device.Name) {
		slog.Warn("unknown device name; may be a typo or third-party device",
			"name", cfg.Device.Name,
			"known", KnownDeviceNames,
		)
	}
	if cfg.Device.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("device.sample_rate %d must not be negative", cfg.Device.SampleRate))
	}
	if cfg.Device.Channels < 0 || cfg.Device.Channels > 2 {
		errs = append(errs, fmt.Errorf("device.channels %d is out of range [0, 2]", cfg.Device.Channels))
	}

	// Capture
	for i, c := range cfg.Capture.MimeCandidates {
		if mime.Base(c) == "" {
			errs = append(errs, fmt.Errorf("capture.mime_candidates[%d] %q is not a media type", i, c))
		}
	}
	if cfg.Capture.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.tick_interval %s must not be negative", cfg.Capture.TickInterval))
	}
	if cfg.Capture.AutoStop < 0 {
		errs = append(errs, fmt.Errorf("capture.auto_stop %s must not be negative", cfg.Capture.AutoStop))
	}
	if cfg.Capture.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("capture.min_duration %d must not be negative", cfg.Capture.MinDuration))
	}

	// Steps
	seen := make(map[string]int, len(cfg.Steps))
	for i, s := range cfg.Steps {
		prefix := fmt.Sprintf("steps[%d]", i)
		switch {
		case s.Category == "":
			errs = append(errs, fmt.Errorf("%s.category is required", prefix))
		case s.Category == ConfirmationStep:
			errs = append(errs, fmt.Errorf("%s.category %q is reserved for the terminal step", prefix, s.Category))
		default:
			if prev, ok := seen[s.Category]; ok {
				errs = append(errs, fmt.Errorf("%s.category %q is a duplicate of steps[%d]", prefix, s.Category, prev))
			}
			seen[s.Category] = i
		}
		if s.MinDuration < 0 {
			errs = append(errs, fmt.Errorf("%s.min_duration %d must not be negative", prefix, s.MinDuration))
		}
		if s.AutoStop < 0 {
			errs = append(errs, fmt.Errorf("%s.auto_stop %s must not be negative", prefix, s.AutoStop))
		}
		if s.AutoStop > 0 && int(s.AutoStop.Seconds()) < s.MinDuration {
			slog.Warn("step auto_stop is shorter than its min_duration; every recording will be rejected",
				"step", s.Category,
				"auto_stop", s.AutoStop,
				"min_duration", s.MinDuration,
			)
		}
	}
	for i, s := range cfg.Steps {
		if s.Next == "" || s.Next == ConfirmationStep {
			continue
		}
		if _, ok := seen[s.Next]; !ok {
			errs = append(errs, fmt.Errorf("steps[%d].next %q does not name a configured step", i, s.Next))
		}
		if s.Next == s.Category {
			errs = append(errs, fmt.Errorf("steps[%d].next %q points at itself", i, s.Next))
		}
	}

	// Output
	if cfg.Output.MaxHandles < 0 {
		errs = append(errs, fmt.Errorf("output.max_handles %d must not be negative", cfg.Output.MaxHandles))
	}

	return errors.Join(errs...)
}
