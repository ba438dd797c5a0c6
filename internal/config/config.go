// Package config defines the configuration schema for the intakevox agent.
//
// Configuration is loaded from a YAML file via [Load] or [LoadFromReader],
// filled with defaults for anything left unset, and validated with
// [Validate]. Capture device implementations are looked up by name through a
// [Registry]. A [Watcher] polls the file and reports hot-reloadable changes
// computed by [Diff].
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls the verbosity of the application logger.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level returns the slog level for l. Unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure for the intakevox agent.
type Config struct {
	// Server holds the control surface and logging settings.
	Server ServerConfig `yaml:"server"`

	// Device selects and configures the capture device.
	Device DeviceConfig `yaml:"device"`

	// Capture holds the defaults every step inherits.
	Capture CaptureConfig `yaml:"capture"`

	// Steps lists the recording steps of the intake flow in order.
	// When empty, [DefaultSteps] is used.
	Steps []StepConfig `yaml:"steps"`

	// Output bounds the published recordings kept in memory.
	Output OutputConfig `yaml:"output"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the control surface listens on.
	// The agent is local; the default binds to loopback only.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log severity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, additionally writes logs to this file with size based
	// rotation.
	LogFile string `yaml:"log_file"`

	// LogMaxSizeMB is the size at which LogFile is rotated. Default 10.
	LogMaxSizeMB int `yaml:"log_max_size_mb"`

	// LogMaxBackups is the number of rotated files to keep. Default 3.
	LogMaxBackups int `yaml:"log_max_backups"`
}

// DeviceConfig selects a capture device implementation from the [Registry].
type DeviceConfig struct {
	// Name is the registered device name (e.g., "malgo", "synth").
	Name string `yaml:"name"`

	// SampleRate is the native capture rate in Hz. 0 uses the device default.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of capture channels (1 or 2). 0 uses the device
	// default.
	Channels int `yaml:"channels"`

	// Options holds device-specific settings not covered above.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig holds the capture defaults shared by all steps.
type CaptureConfig struct {
	// MimeCandidates is the negotiation priority list.
	MimeCandidates []string `yaml:"mime_candidates"`

	// TickInterval is how often elapsed-time updates are emitted.
	TickInterval time.Duration `yaml:"tick_interval"`

	// AutoStop is the maximum recording length before capture stops itself.
	AutoStop time.Duration `yaml:"auto_stop"`

	// MinDuration is the shortest accepted recording in whole seconds.
	MinDuration int `yaml:"min_duration"`
}

// StepConfig describes one recording step of the intake flow. Zero
// MinDuration and AutoStop values inherit from [CaptureConfig].
type StepConfig struct {
	// Category names the step and prefixes its recording filenames
	// (e.g., "cough").
	Category string `yaml:"category"`

	// Next is the step that follows a successful submit. Empty or
	// [ConfirmationStep] ends the flow.
	Next string `yaml:"next"`

	// MinDuration overrides the minimum accepted length in seconds.
	MinDuration int `yaml:"min_duration"`

	// AutoStop overrides the auto-stop ceiling.
	AutoStop time.Duration `yaml:"auto_stop"`
}

// OutputConfig bounds the handle store.
type OutputConfig struct {
	// MaxHandles is the number of published recordings kept before the least
	// recently used one is revoked.
	MaxHandles int `yaml:"max_handles"`
}

// ConfirmationStep is the terminal step reached after the last recording.
const ConfirmationStep = "confirmation"

// Step returns the step configured for category.
func (c *Config) Step(category string) (StepConfig, bool) {
	for _, s := range c.Steps {
		if s.Category == category {
			return s, true
		}
	}
	return StepConfig{}, false
}

// DefaultSteps returns the cough, speech and breath steps in flow order.
func DefaultSteps() []StepConfig {
	return []StepConfig{
		{Category: "cough", Next: "speech"},
		{Category: "speech", Next: "breath"},
		{Category: "breath", Next: ConfirmationStep},
	}
}
