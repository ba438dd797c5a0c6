package decode

import (
	"fmt"
	"strconv"

	"github.com/tosone/minimp3"

	"github.com/MrWong99/intakevox/pkg/audio"
	"github.com/MrWong99/intakevox/pkg/audio/opus"
	"github.com/MrWong99/intakevox/pkg/audio/wav"
)

// Defaults for raw PCM chunks without rate/channels parameters.
const (
	defaultPCMRate     = 48000
	defaultPCMChannels = 1
)

// intParam reads a positive integer MIME parameter, falling back to def when
// the parameter is absent.
func intParam(params map[string]string, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: parameter %s=%q", ErrMalformed, key, v)
	}
	return n, nil
}

// decodePCM handles interleaved 16-bit little-endian PCM. Chunk boundaries
// need not align with frames.
func decodePCM(chunks [][]byte, params map[string]string) (audio.DecodedAudio, error) {
	rate, err := intParam(params, "rate", defaultPCMRate)
	if err != nil {
		return audio.DecodedAudio{}, err
	}
	channels, err := intParam(params, "channels", defaultPCMChannels)
	if err != nil {
		return audio.DecodedAudio{}, err
	}
	return audio.PCM16ToDecoded(concat(chunks), rate, channels)
}

// decodeWAV handles a WAV file split across chunks. The header lives in the
// first bytes of the stream.
func decodeWAV(chunks [][]byte, _ map[string]string) (audio.DecodedAudio, error) {
	out, err := wav.Decode(concat(chunks))
	if err != nil {
		return audio.DecodedAudio{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return out, nil
}

// decodeMP3 decodes a complete MP3 stream with minimp3.
func decodeMP3(chunks [][]byte, _ map[string]string) (audio.DecodedAudio, error) {
	data := concat(chunks)
	if len(data) == 0 {
		return audio.DecodedAudio{}, fmt.Errorf("%w: empty mp3 stream", ErrMalformed)
	}
	dec, pcm, err := minimp3.DecodeFull(data)
	if err != nil {
		return audio.DecodedAudio{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if dec == nil || dec.SampleRate <= 0 || dec.Channels <= 0 {
		return audio.DecodedAudio{}, fmt.Errorf("%w: no mp3 frames found", ErrMalformed)
	}
	return audio.PCM16ToDecoded(pcm, dec.SampleRate, dec.Channels)
}

// decodeOpus decodes one Opus packet per chunk at 48 kHz. The channel count
// comes from the "channels" parameter (default mono).
func decodeOpus(chunks [][]byte, params map[string]string) (audio.DecodedAudio, error) {
	channels, err := intParam(params, "channels", 1)
	if err != nil {
		return audio.DecodedAudio{}, err
	}
	dec, err := opus.NewDecoder(channels)
	if err != nil {
		return audio.DecodedAudio{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var pcm []int16
	for i, packet := range chunks {
		if len(packet) == 0 {
			continue
		}
		frame, err := dec.Decode(packet)
		if err != nil {
			return audio.DecodedAudio{}, fmt.Errorf("%w: packet %d: %w", ErrMalformed, i, err)
		}
		pcm = append(pcm, frame...)
	}
	return audio.PCM16ToDecoded(audio.Int16sToBytes(pcm), opus.SampleRate, channels)
}
