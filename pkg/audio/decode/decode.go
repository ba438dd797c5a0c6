// Package decode turns the raw chunks of a finalized capture (or an uploaded
// file) into [audio.DecodedAudio].
//
// Decoders are looked up by base MIME type in a [Registry]. [NewRegistry]
// returns a registry with the built-in decoders for PCM, WAV, MP3 and Opus
// already registered; callers may add or replace entries with
// [Registry.Register].
package decode

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/intakevox/pkg/audio"
	"github.com/MrWong99/intakevox/pkg/audio/mime"
)

var (
	// ErrUnsupported is returned when no decoder is registered for a type.
	ErrUnsupported = errors.New("decode: unsupported mime type")

	// ErrMalformed is returned when a decoder cannot make sense of its input.
	ErrMalformed = errors.New("decode: malformed input")
)

// Decoder converts the ordered chunks of one recording into float PCM.
// params holds the MIME type parameters (e.g. rate and channels for raw PCM).
type Decoder interface {
	Decode(chunks [][]byte, params map[string]string) (audio.DecodedAudio, error)
}

// DecoderFunc adapts a function to the [Decoder] interface.
type DecoderFunc func(chunks [][]byte, params map[string]string) (audio.DecodedAudio, error)

// Decode calls f.
func (f DecoderFunc) Decode(chunks [][]byte, params map[string]string) (audio.DecodedAudio, error) {
	return f(chunks, params)
}

// Registry maps base MIME types to decoders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns a registry with the built-in decoders registered.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]Decoder)}
	r.Register(mime.PCM, DecoderFunc(decodePCM))
	r.Register("audio/l16", DecoderFunc(decodePCM))
	r.Register(mime.WAV, DecoderFunc(decodeWAV))
	r.Register("audio/wave", DecoderFunc(decodeWAV))
	r.Register("audio/x-wav", DecoderFunc(decodeWAV))
	r.Register(mime.MPEG, DecoderFunc(decodeMP3))
	r.Register("audio/mp3", DecoderFunc(decodeMP3))
	r.Register(mime.Opus, DecoderFunc(decodeOpus))
	return r
}

// Register adds or replaces the decoder for mimeType. Parameters on
// mimeType are ignored.
func (r *Registry) Register(mimeType string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[mime.Base(mimeType)] = d
}

// Supports reports whether a decoder is registered for mimeType. It has the
// signature expected by [mime.Negotiate].
func (r *Registry) Supports(mimeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[mime.Base(mimeType)]
	return ok
}

// Types returns the registered base types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for t := range r.decoders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Decode decodes chunks recorded as mimeType. The result is validated; a
// decoder returning ragged or rate-less audio yields [ErrMalformed].
func (r *Registry) Decode(mimeType string, chunks [][]byte) (audio.DecodedAudio, error) {
	base := mime.Base(mimeType)
	r.mu.RLock()
	d, ok := r.decoders[base]
	r.mu.RUnlock()
	if !ok {
		return audio.DecodedAudio{}, fmt.Errorf("%w: %q", ErrUnsupported, base)
	}

	out, err := d.Decode(chunks, mime.Params(mimeType))
	if err != nil {
		return audio.DecodedAudio{}, fmt.Errorf("decode: %s: %w", base, err)
	}
	if err := out.Validate(); err != nil {
		return audio.DecodedAudio{}, fmt.Errorf("decode: %s: %w: %w", base, ErrMalformed, err)
	}
	return out, nil
}

// concat joins chunks into one buffer.
func concat(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	buf := make([]byte, 0, n)
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return buf
}
