package audio

import (
	"errors"
	"fmt"
	"time"
)

// TargetSampleRate is the fixed output rate of the intake pipeline. Every
// recording is resampled to this rate before it is WAV-encoded.
const TargetSampleRate = 44100

// ErrInvalidAudio is returned by [DecodedAudio.Validate] when the buffer
// violates its invariants.
var ErrInvalidAudio = errors.New("audio: invalid decoded audio")

// DecodedAudio is raw float PCM produced by a decoder from one finalized
// capture (or an uploaded file). Samples are nominally in [-1.0, 1.0].
//
// DecodedAudio is transient: it is produced once and consumed immediately by
// [Downmix] and [ResampleNearest].
type DecodedAudio struct {
	// SampleRate is the native rate of the source in Hz. Must be > 0.
	SampleRate int

	// Channels holds one sample slice per channel. All slices have the same
	// length.
	Channels [][]float32
}

// NumChannels returns the number of channels in d.
func (d DecodedAudio) NumChannels() int {
	return len(d.Channels)
}

// Len returns the number of samples per channel, or 0 if d has no channels.
func (d DecodedAudio) Len() int {
	if len(d.Channels) == 0 {
		return 0
	}
	return len(d.Channels[0])
}

// Duration returns the playback length of d at its native sample rate.
func (d DecodedAudio) Duration() time.Duration {
	if d.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(d.Len()) * int64(time.Second) / int64(d.SampleRate))
}

// Validate reports whether d has a positive sample rate, at least one channel
// and equal-length channels.
func (d DecodedAudio) Validate() error {
	if d.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, d.SampleRate)
	}
	if len(d.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidAudio)
	}
	n := len(d.Channels[0])
	for i, ch := range d.Channels[1:] {
		if len(ch) != n {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrInvalidAudio, i+1, len(ch), n)
		}
	}
	return nil
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

// String implements [fmt.Stringer], e.g. "48000Hz stereo, 240000 samples".
func (d DecodedAudio) String() string {
	return fmt.Sprintf("%s, %d samples", formatString(d.SampleRate, d.NumChannels()), d.Len())
}
