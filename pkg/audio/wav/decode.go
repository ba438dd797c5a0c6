package wav

import (
	"encoding/binary"
	"math"

	"github.com/MrWong99/intakevox/pkg/audio"
)

// Decode parses a WAV file into per-channel float samples at the file's
// native sample rate. A trailing partial frame is ignored.
func Decode(b []byte) (audio.DecodedAudio, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return audio.DecodedAudio{}, err
	}

	channels := int(h.NumChannels)
	bytesPerSample := int(h.BitsPerSample / 8)
	frames := h.Frames()
	data := b[h.DataOffset : h.DataOffset+int(h.DataSize)]

	out := audio.DecodedAudio{
		SampleRate: int(h.SampleRate),
		Channels:   make([][]float32, channels),
	}
	for ch := range channels {
		out.Channels[ch] = make([]float32, frames)
	}

	read := sampleReader(h.AudioFormat, h.BitsPerSample)
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * bytesPerSample
			out.Channels[ch][i] = read(data[off : off+bytesPerSample])
		}
	}
	return out, nil
}

// sampleReader returns a function converting one little-endian sample of the
// given format into a float in [-1.0, 1.0]. The header has already been
// validated.
func sampleReader(format, bits uint16) func([]byte) float32 {
	le := binary.LittleEndian
	if format == FormatIEEEFloat {
		if bits == 64 {
			return func(b []byte) float32 { return float32(math.Float64frombits(le.Uint64(b))) }
		}
		return func(b []byte) float32 { return math.Float32frombits(le.Uint32(b)) }
	}
	switch bits {
	case 8:
		// 8-bit WAV is unsigned with a 128 bias.
		return func(b []byte) float32 { return float32(int(b[0])-128) / 128.0 }
	case 24:
		return func(b []byte) float32 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float32(v) / 8388608.0
		}
	case 32:
		return func(b []byte) float32 { return float32(float64(int32(le.Uint32(b))) / 2147483648.0) }
	default:
		return func(b []byte) float32 { return float32(int16(le.Uint16(b))) / 32768.0 }
	}
}
