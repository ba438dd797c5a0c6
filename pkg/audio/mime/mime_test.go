package mime_test

import (
	"testing"

	"github.com/MrWong99/intakevox/pkg/audio/mime"
)

func supports(types ...string) func(string) bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(t string) bool { return set[t] }
}

func TestNegotiate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		candidates []string
		supported  func(string) bool
		want       string
		wantOK     bool
	}{
		{"first match wins", []string{mime.Opus, mime.MPEG, mime.WAV}, supports(mime.MPEG, mime.WAV), mime.MPEG, true},
		{"priority order respected", []string{mime.WAV, mime.Opus}, supports(mime.Opus, mime.WAV), mime.WAV, true},
		{"no match", []string{mime.Opus}, supports(mime.PCM), "", false},
		{"empty candidates", nil, supports(mime.PCM), "", false},
		{"nil capability check", []string{mime.PCM}, nil, "", false},
		{"empty entries skipped", []string{"", mime.PCM}, func(string) bool { return true }, mime.PCM, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := mime.Negotiate(tt.candidates, tt.supported)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Negotiate() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNegotiate_Deterministic(t *testing.T) {
	t.Parallel()

	var calls []string
	check := func(c string) bool {
		calls = append(calls, c)
		return c == mime.WAV
	}
	got, _ := mime.Negotiate(mime.DefaultCandidates, check)
	if got != mime.WAV {
		t.Fatalf("got %q, want %q", got, mime.WAV)
	}
	want := []string{mime.Opus, mime.MPEG, mime.WAV}
	if len(calls) != len(want) {
		t.Fatalf("checked %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestBaseAndParams(t *testing.T) {
	t.Parallel()

	mt := "Audio/PCM; rate=48000; channels=2"
	if got := mime.Base(mt); got != mime.PCM {
		t.Errorf("Base = %q, want %q", got, mime.PCM)
	}
	p := mime.Params(mt)
	if p["rate"] != "48000" || p["channels"] != "2" {
		t.Errorf("Params = %v", p)
	}
	if p := mime.Params("audio/pcm;;=="); p == nil {
		t.Error("Params returned nil map for malformed input")
	}
}

func TestWithParams(t *testing.T) {
	t.Parallel()

	got := mime.WithParams(mime.PCM, map[string]string{"rate": "16000", "channels": "1"})
	if got != "audio/pcm; channels=1; rate=16000" {
		t.Errorf("WithParams = %q", got)
	}
	if got := mime.WithParams(mime.WAV, nil); got != mime.WAV {
		t.Errorf("WithParams(nil) = %q", got)
	}
}

func TestExtension(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"audio/webm;codecs=opus": "webm",
		"audio/mp4":              "mp4",
		"audio/ogg":              "ogg",
		mime.Opus:                "opus",
		mime.MPEG:                "mp3",
		mime.WAV:                 "wav",
		"audio/pcm;rate=48000":   "pcm",
		"application/unknown":    "wav",
	}
	for in, want := range tests {
		if got := mime.Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFromExtension(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{".wav", "WAV", "mp3", "opus", "pcm"} {
		if _, ok := mime.FromExtension(ext); !ok {
			t.Errorf("FromExtension(%q) not ok", ext)
		}
	}
	if _, ok := mime.FromExtension("flac"); ok {
		t.Error("FromExtension(flac) ok, want false")
	}
}
