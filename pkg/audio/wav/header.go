// Package wav reads and writes canonical RIFF/WAVE containers.
//
// [Encode] produces the one layout the intake pipeline emits: a 44-byte
// header followed by 16-bit signed little-endian mono PCM at
// [audio.TargetSampleRate]. [ParseHeader] and [Decode] accept a wider range
// of input (8/16/24/32-bit integer PCM, 32-bit IEEE float, any channel count,
// extra chunks before "data") so that WAV captures and uploads can be fed
// back through the pipeline.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// HeaderSize is the size in bytes of the canonical header written by [Encode].
const HeaderSize = 44

// Audio format tags found in the fmt chunk.
const (
	FormatPCM        = 1
	FormatIEEEFloat  = 3
	FormatExtensible = 0xFFFE
)

// ErrInvalidHeader is returned when a byte slice is not a WAV file the
// package can read.
var ErrInvalidHeader = errors.New("wav: invalid header")

// Header describes the format of a WAV file.
type Header struct {
	// AudioFormat is the fmt chunk format tag (1 = PCM, 3 = IEEE float).
	// Extensible files report the format of their sub-format GUID.
	AudioFormat uint16

	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16

	// DataOffset is the byte offset of the first sample in the file.
	DataOffset int

	// DataSize is the length in bytes of the data chunk as declared in the
	// header, clamped to the bytes actually present.
	DataSize uint32
}

// Frames returns the number of sample frames in the data chunk.
func (h Header) Frames() int {
	if h.BlockAlign == 0 {
		return 0
	}
	return int(h.DataSize) / int(h.BlockAlign)
}

// Duration returns the playback length described by h.
func (h Header) Duration() time.Duration {
	if h.SampleRate == 0 {
		return 0
	}
	return time.Duration(int64(h.Frames()) * int64(time.Second) / int64(h.SampleRate))
}

// ParseHeader walks the RIFF chunks of b and returns the format of the first
// fmt chunk together with the location of the data chunk.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 12 {
		return Header{}, fmt.Errorf("%w: %d bytes is too short", ErrInvalidHeader, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("%w: missing RIFF/WAVE signature", ErrInvalidHeader)
	}

	var (
		h       Header
		haveFmt bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return Header{}, fmt.Errorf("%w: fmt chunk too short", ErrInvalidHeader)
			}
			h.AudioFormat = binary.LittleEndian.Uint16(b[body : body+2])
			h.NumChannels = binary.LittleEndian.Uint16(b[body+2 : body+4])
			h.SampleRate = binary.LittleEndian.Uint32(b[body+4 : body+8])
			h.ByteRate = binary.LittleEndian.Uint32(b[body+8 : body+12])
			h.BlockAlign = binary.LittleEndian.Uint16(b[body+12 : body+14])
			h.BitsPerSample = binary.LittleEndian.Uint16(b[body+14 : body+16])
			if h.AudioFormat == FormatExtensible && size >= 40 && body+26 <= len(b) {
				// The first two bytes of the sub-format GUID carry the real tag.
				h.AudioFormat = binary.LittleEndian.Uint16(b[body+24 : body+26])
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return Header{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidHeader)
			}
			avail := len(b) - body
			if size > avail {
				size = avail
			}
			h.DataOffset = body
			h.DataSize = uint32(size)
			if err := h.validate(); err != nil {
				return Header{}, err
			}
			return h, nil
		}

		// Chunks are word aligned.
		off = body + size + size%2
	}
	if !haveFmt {
		return Header{}, fmt.Errorf("%w: no fmt chunk", ErrInvalidHeader)
	}
	return Header{}, fmt.Errorf("%w: no data chunk", ErrInvalidHeader)
}

func (h Header) validate() error {
	if h.NumChannels == 0 {
		return fmt.Errorf("%w: zero channels", ErrInvalidHeader)
	}
	if h.SampleRate == 0 {
		return fmt.Errorf("%w: zero sample rate", ErrInvalidHeader)
	}
	switch h.AudioFormat {
	case FormatPCM:
		switch h.BitsPerSample {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("%w: unsupported PCM bit depth %d", ErrInvalidHeader, h.BitsPerSample)
		}
	case FormatIEEEFloat:
		if h.BitsPerSample != 32 && h.BitsPerSample != 64 {
			return fmt.Errorf("%w: unsupported float bit depth %d", ErrInvalidHeader, h.BitsPerSample)
		}
	default:
		return fmt.Errorf("%w: unsupported format tag %#x", ErrInvalidHeader, h.AudioFormat)
	}
	if want := int(h.NumChannels) * int(h.BitsPerSample/8); int(h.BlockAlign) != want {
		return fmt.Errorf("%w: block align %d, want %d", ErrInvalidHeader, h.BlockAlign, want)
	}
	return nil
}
