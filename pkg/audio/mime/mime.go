// Package mime negotiates the container/codec a capture device records in.
//
// Types follow the usual media-type syntax, with format parameters carried
// as type parameters, e.g. "audio/pcm;rate=48000;channels=2".
package mime

import (
	stdmime "mime"
	"strings"
)

// Well-known capture types.
const (
	Opus = "audio/opus"
	MPEG = "audio/mpeg"
	WAV  = "audio/wav"
	PCM  = "audio/pcm"
)

// DefaultCandidates is the priority order used when no candidates are
// configured. Compressed formats come first because they keep the buffered
// chunk list small during a 30 second capture.
var DefaultCandidates = []string{Opus, MPEG, WAV, PCM}

// Negotiate returns the first candidate for which supported reports true.
// The second return value is false when no candidate matches; callers then
// fall back to the device's own default.
func Negotiate(candidates []string, supported func(string) bool) (string, bool) {
	if supported == nil {
		return "", false
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if supported(c) {
			return c, true
		}
	}
	return "", false
}

// Base returns the lower-cased type/subtype of mimeType without parameters.
func Base(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Params returns the parameters of mimeType. Malformed parameter lists yield
// an empty, non-nil map.
func Params(mimeType string) map[string]string {
	_, params, err := stdmime.ParseMediaType(mimeType)
	if err != nil || params == nil {
		return map[string]string{}
	}
	return params
}

// WithParams formats base with the given parameters in a stable order.
func WithParams(base string, params map[string]string) string {
	if len(params) == 0 {
		return base
	}
	return stdmime.FormatMediaType(base, params)
}

// Extension returns the file extension (without dot) conventionally used
// for mimeType. Unknown types map to "wav".
func Extension(mimeType string) string {
	switch Base(mimeType) {
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/mp4", "audio/aac", "audio/x-m4a":
		return "mp4"
	case "audio/ogg":
		return "ogg"
	case Opus:
		return "opus"
	case MPEG, "audio/mp3":
		return "mp3"
	case PCM, "audio/l16":
		return "pcm"
	default:
		return "wav"
	}
}

// FromExtension is the inverse of [Extension] for the types the intake
// pipeline can decode. ok is false for anything else.
func FromExtension(ext string) (mimeType string, ok bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "wav", "wave":
		return WAV, true
	case "mp3":
		return MPEG, true
	case "opus":
		return Opus, true
	case "pcm", "raw":
		return PCM, true
	}
	return "", false
}
