// Package opus wraps the gopus codec for 48 kHz capture streams.
//
// Capture devices that negotiate "audio/opus" emit one packet per 20 ms
// frame; the decode registry turns the packet list back into PCM.
package opus

import (
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// Opus capture runs at 48 kHz with 20 ms frames.
const (
	SampleRate  = 48000
	FrameSizeMs = 20
	// FrameSize is the number of samples per channel per 20 ms frame.
	FrameSize = SampleRate * FrameSizeMs / 1000 // 960

	// maxFrameSize is the largest frame an Opus packet can carry (120 ms).
	maxFrameSize = SampleRate * 120 / 1000

	// maxPacketBytes is the recommended upper bound for an encoded packet.
	maxPacketBytes = 4000
)

// ErrFrameSize is returned by [Encoder.Encode] when the input does not hold
// exactly one frame.
var ErrFrameSize = errors.New("opus: input is not one 20 ms frame")

// ErrChannels is returned for channel counts other than 1 or 2.
var ErrChannels = errors.New("opus: unsupported channel count")

func checkChannels(channels int) error {
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d", ErrChannels, channels)
	}
	return nil
}

// Decoder decodes a single Opus stream. Packets must be fed in order because
// the codec keeps state across frames.
type Decoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewDecoder creates a decoder producing interleaved PCM with the given
// channel count (1 or 2).
func NewDecoder(channels int) (*Decoder, error) {
	if err := checkChannels(channels); err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, channels: channels}, nil
}

// Channels returns the channel count the decoder was created with.
func (d *Decoder) Channels() int { return d.channels }

// Decode decodes one packet into interleaved int16 samples.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return pcm, nil
}

// Encoder encodes one Opus stream.
type Encoder struct {
	enc      *gopus.Encoder
	channels int
}

// NewEncoder creates a voice-tuned encoder for interleaved PCM with the
// given channel count (1 or 2).
func NewEncoder(channels int) (*Encoder, error) {
	if err := checkChannels(channels); err != nil {
		return nil, err
	}
	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, channels: channels}, nil
}

// FrameSamples returns the number of interleaved samples in one frame.
func (e *Encoder) FrameSamples() int { return FrameSize * e.channels }

// Encode encodes exactly one 20 ms frame of interleaved samples.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != e.FrameSamples() {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), e.FrameSamples())
	}
	packet, err := e.enc.Encode(pcm, FrameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}
