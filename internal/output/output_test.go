package output_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/intakevox/internal/output"
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 6, 7, 8, 9, 123_000_000, time.UTC)
	return func() time.Time { return t }
}

func TestFilename(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 6, 7, 8, 9, 123_456_789, time.FixedZone("CEST", 2*3600))
	got := output.Filename("cough", ts)
	want := "cough_recording-2024-05-06T05-08-09-123Z.wav"
	if got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
	if strings.ContainsAny(strings.TrimSuffix(got, ".wav"), ":.") {
		t.Errorf("Filename %q still contains ':' or '.'", got)
	}
}

func TestStore_PublishRecording(t *testing.T) {
	t.Parallel()

	s, err := output.NewStore(4, output.WithClock(fixedClock()))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	data := []byte("RIFF....")
	h := s.PublishRecording("breath", data, 7)

	if !strings.HasPrefix(h.Ref, output.RefPrefix) {
		t.Errorf("Ref = %q, want %q prefix", h.Ref, output.RefPrefix)
	}
	if h.Filename != "breath_recording-2024-05-06T07-08-09-123Z.wav" {
		t.Errorf("Filename = %q", h.Filename)
	}
	if h.DurationSeconds != 7 || h.Size != len(data) || h.MimeType != "audio/wav" || h.Source != output.SourceRecorded {
		t.Errorf("unexpected handle %+v", h)
	}

	got, b, err := s.Get(h.Ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != h || string(b) != string(data) {
		t.Errorf("Get = %+v %q", got, b)
	}
}

func TestStore_PublishUpload(t *testing.T) {
	t.Parallel()

	s, _ := output.NewStore(4, output.WithClock(fixedClock()))
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"keeps original name", "my cough.mp3", "my cough.mp3"},
		{"strips directories", `C:\Users\me\cough.wav`, "cough.wav"},
		{"strips unix directories", "/tmp/x/cough.wav", "cough.wav"},
		{"generated when empty", "", "cough_upload-1714979289123.mp3"},
	}
	for _, tt := range tests {
		h := s.PublishUpload("cough", tt.filename, "audio/mpeg", []byte{1, 2, 3}, 4)
		if h.Filename != tt.want {
			t.Errorf("%s: Filename = %q, want %q", tt.name, h.Filename, tt.want)
		}
		if h.Source != output.SourceUploaded || h.Size != 3 || h.DurationSeconds != 4 {
			t.Errorf("%s: unexpected handle %+v", tt.name, h)
		}
	}
}

func TestStore_UniqueRefs(t *testing.T) {
	t.Parallel()

	s, _ := output.NewStore(8)
	a := s.PublishRecording("cough", nil, 3)
	b := s.PublishRecording("cough", nil, 3)
	if a.Ref == b.Ref {
		t.Errorf("refs collide: %q", a.Ref)
	}
}

func TestStore_Revoke(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var released []string
	s, _ := output.NewStore(4, output.WithOnRelease(func(h output.Handle) {
		mu.Lock()
		released = append(released, h.Ref)
		mu.Unlock()
	}))
	h := s.PublishRecording("speech", []byte{0}, 3)

	if !s.Revoke(h.Ref) {
		t.Fatal("Revoke returned false for live handle")
	}
	if s.Revoke(h.Ref) {
		t.Error("second Revoke returned true")
	}
	if _, _, err := s.Get(h.Ref); !errors.Is(err, output.ErrNotFound) {
		t.Errorf("Get after revoke err = %v, want ErrNotFound", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(released) != 1 || released[0] != h.Ref {
		t.Errorf("released = %v, want [%s]", released, h.Ref)
	}
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	s, _ := output.NewStore(2)
	a := s.PublishRecording("cough", nil, 3)
	b := s.PublishRecording("speech", nil, 3)
	if _, _, err := s.Get(a.Ref); err != nil { // a is now most recent
		t.Fatalf("Get: %v", err)
	}
	c := s.PublishRecording("breath", nil, 3)

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if _, err := s.Lookup(b.Ref); !errors.Is(err, output.ErrNotFound) {
		t.Errorf("b should have been evicted, err = %v", err)
	}
	for _, ref := range []string{a.Ref, c.Ref} {
		if _, err := s.Lookup(ref); err != nil {
			t.Errorf("Lookup(%s): %v", ref, err)
		}
	}
}

func TestStore_Resize(t *testing.T) {
	t.Parallel()

	s, _ := output.NewStore(4)
	for range 4 {
		s.PublishRecording("cough", nil, 3)
	}
	if n := s.Resize(1); n != 3 {
		t.Errorf("Resize evicted %d, want 3", n)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	s.Purge()
	if s.Len() != 0 {
		t.Errorf("Len after Purge = %d, want 0", s.Len())
	}
}
