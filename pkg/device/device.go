// Package device holds the pieces shared by the capture device backends:
// the PCM layout a device records in and typed access to the free-form
// options map from the config file.
package device

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/intakevox/pkg/audio/mime"
	"github.com/MrWong99/intakevox/pkg/audio/opus"
)

// Defaults assumed for "audio/pcm" and "audio/opus" types without
// rate/channels parameters. They match the decode registry.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 1
)

// ErrInvalidOption is returned when a device option has the wrong type or
// an out-of-range value.
var ErrInvalidOption = errors.New("device: invalid option")

// Format is the PCM layout a device captures in.
type Format struct {
	SampleRate int
	Channels   int
}

// WithDefaults fills zero fields with [DefaultSampleRate] and
// [DefaultChannels].
func (f Format) WithDefaults() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = DefaultChannels
	}
	return f
}

// PCMType returns the "audio/pcm" type with explicit rate and channels.
func (f Format) PCMType() string {
	return mime.WithParams(mime.PCM, map[string]string{
		"rate":     strconv.Itoa(f.SampleRate),
		"channels": strconv.Itoa(f.Channels),
	})
}

// Compatible reports whether a stream recorded in f can be labelled
// mimeType without the decoder misreading it. Parameters absent from
// mimeType take the decoder defaults. WAV is self-describing and always
// compatible.
func (f Format) Compatible(mimeType string) bool {
	params := mime.Params(mimeType)
	switch mime.Base(mimeType) {
	case mime.PCM:
		return paramIs(params, "rate", f.SampleRate, DefaultSampleRate) &&
			paramIs(params, "channels", f.Channels, DefaultChannels)
	case mime.Opus:
		return f.SampleRate == opus.SampleRate &&
			paramIs(params, "channels", f.Channels, DefaultChannels)
	case mime.WAV:
		return true
	}
	return false
}

func paramIs(params map[string]string, key string, want, def int) bool {
	v, ok := params[key]
	if !ok {
		return want == def
	}
	n, err := strconv.Atoi(v)
	return err == nil && n == want
}

// CheckOptions fails when opts holds a key not listed in known.
func CheckOptions(opts map[string]any, known ...string) error {
	var errs []error
	for k := range opts {
		if !slices.Contains(known, k) {
			errs = append(errs, fmt.Errorf("%w: unknown option %q", ErrInvalidOption, k))
		}
	}
	return errors.Join(errs...)
}

// StringOption returns opts[key] as a string, or def when absent.
func StringOption(opts map[string]any, key, def string) (string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidOption, key, v)
	}
	return s, nil
}

// FloatOption returns opts[key] as a float64, or def when absent. YAML
// integers and numeric strings are accepted.
func FloatOption(opts map[string]any, key string, def float64) (float64, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float64:
		f = n
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidOption, key, err)
		}
		f = p
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidOption, key, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrInvalidOption, key)
	}
	return f, nil
}

// IntOption returns opts[key] as an int, or def when absent. Floats must
// be integral.
func IntOption(opts map[string]any, key string, def int) (int, error) {
	if _, ok := opts[key]; !ok {
		return def, nil
	}
	f, err := FloatOption(opts, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidOption, key, f)
	}
	return int(f), nil
}

// DurationOption returns opts[key] as a duration, or def when absent. The
// value is a Go duration string such as "20ms".
func DurationOption(opts map[string]any, key string, def time.Duration) (time.Duration, error) {
	s, err := StringOption(opts, key, "")
	if err != nil {
		return 0, err
	}
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidOption, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidOption, key)
	}
	return d, nil
}
