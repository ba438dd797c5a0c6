package wav

import (
	"encoding/binary"
	"math"

	"github.com/MrWong99/intakevox/pkg/audio"
)

// Output format written by [Encode].
const (
	Channels      = 1
	BitsPerSample = 16
	SampleRate    = audio.TargetSampleRate
)

// Quantize maps a float sample to int16. The sample is clamped to
// [-1.0, 1.0] and scaled asymmetrically: negative values by 32768 and
// positive values by 32767, so both ends of the int16 range are reachable.
// The scaled value is truncated toward zero. NaN and ±Inf map to 0.
func Quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	v = max(-1, min(1, v))
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7fff)
}

// Encode serialises mono samples at [SampleRate] into a canonical 44-byte
// header WAV file with 16-bit little-endian PCM. The result is always
// HeaderSize + 2*len(samples) bytes long.
func Encode(samples []float32) []byte {
	dataSize := len(samples) * BitsPerSample / 8
	buf := make([]byte, HeaderSize+dataSize)
	putHeader(buf, SampleRate, Channels, uint32(dataSize))

	off := HeaderSize
	for _, s := range samples {
		binary.LittleEndian.PutUint16(buf[off:], uint16(Quantize(s)))
		off += 2
	}
	return buf
}

// StreamingSize is written into the RIFF and data size fields of a header
// whose length is not known up front. [ParseHeader] clamps it to the bytes
// actually present.
const StreamingSize = 0xFFFFFFFF

// StreamHeader returns a 16-bit PCM header for a live capture of unknown
// length. Samples follow the header directly.
func StreamHeader(sampleRate, channels int) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, uint32(sampleRate), uint16(channels), StreamingSize)
	return buf
}

// putHeader writes a 16-bit PCM header into the first [HeaderSize] bytes
// of buf.
func putHeader(buf []byte, rate uint32, channels uint16, dataSize uint32) {
	const bytesPerSample = BitsPerSample / 8
	le := binary.LittleEndian

	riffSize := dataSize
	if dataSize != StreamingSize {
		riffSize = 36 + dataSize
	}

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], riffSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], FormatPCM)
	le.PutUint16(buf[22:24], channels)
	le.PutUint32(buf[24:28], rate)
	le.PutUint32(buf[28:32], rate*uint32(channels)*bytesPerSample)
	le.PutUint16(buf[32:34], channels*bytesPerSample)
	le.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], dataSize)
}
