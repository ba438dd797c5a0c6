package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// PCM16ToDecoded deinterleaves 16-bit signed little-endian PCM into one float
// slice per channel, normalising each sample to [-1.0, 1.0) by dividing by
// 32768. A trailing partial frame is dropped with a warning.
func PCM16ToDecoded(pcm []byte, sampleRate, channels int) (DecodedAudio, error) {
	if sampleRate <= 0 {
		return DecodedAudio{}, fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, sampleRate)
	}
	if channels <= 0 {
		return DecodedAudio{}, fmt.Errorf("%w: channel count %d", ErrInvalidAudio, channels)
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	if rem := len(pcm) % frameBytes; rem != 0 {
		slog.Warn("audio: dropping trailing partial PCM frame",
			"bytes", rem,
			"format", formatString(sampleRate, channels),
		)
	}

	out := DecodedAudio{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range channels {
		out.Channels[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			out.Channels[ch][i] = float32(sample) / 32768.0
		}
	}
	return out, nil
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
// A trailing odd byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
