// Package output publishes encoded recordings and uploaded files as playable
// references for the UI layer.
//
// A [Handle] stays valid until it is revoked or evicted. The [Store] is
// bounded: once it holds its maximum number of handles, publishing a new one
// revokes the least recently used.
package output

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/intakevox/pkg/audio/mime"
)

// DefaultMaxHandles bounds the store when no size is configured.
const DefaultMaxHandles = 16

// RefPrefix marks playable references so they are recognisable in logs and
// URLs.
const RefPrefix = "blob-"

// ErrNotFound is returned for references that were never published or have
// been revoked.
var ErrNotFound = errors.New("output: handle not found")

// Source records how a handle's bytes were produced.
type Source string

const (
	SourceRecorded Source = "recorded"
	SourceUploaded Source = "uploaded"
)

// Handle is the UI-facing view of one published audio file.
type Handle struct {
	Ref             string    `json:"ref"`
	Filename        string    `json:"filename"`
	DurationSeconds int       `json:"duration_seconds"`
	MimeType        string    `json:"mime_type"`
	Size            int       `json:"size"`
	Category        string    `json:"category"`
	Source          Source    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// Filename builds "<category>_recording-<timestamp>.wav" where the timestamp
// is t in UTC ISO-8601 with millisecond precision and ':' and '.' replaced by
// '-'.
func Filename(category string, t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return fmt.Sprintf("%s_recording-%s.wav", category, ts)
}

type entry struct {
	handle Handle
	data   []byte
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt and filenames.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOnRelease registers fn to be called whenever a handle leaves the store,
// whether revoked or evicted.
func WithOnRelease(fn func(Handle)) Option {
	return func(s *Store) { s.onRelease = fn }
}

// Store holds published handles and their bytes. It is safe for concurrent
// use.
type Store struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, entry]
	now       func() time.Time
	onRelease func(Handle)
}

// NewStore creates a store holding at most maxHandles handles. Non-positive
// values use [DefaultMaxHandles].
func NewStore(maxHandles int, opts ...Option) (*Store, error) {
	if maxHandles <= 0 {
		maxHandles = DefaultMaxHandles
	}
	s := &Store{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	cache, err := lru.NewWithEvict(maxHandles, s.released)
	if err != nil {
		return nil, fmt.Errorf("output: create store: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *Store) released(ref string, e entry) {
	slog.Debug("output: handle released", "ref", ref, "filename", e.handle.Filename)
	if s.onRelease != nil {
		s.onRelease(e.handle)
	}
}

// PublishRecording stores an encoded WAV produced by the capture pipeline
// and returns its handle. The filename is derived from category and the
// current time.
func (s *Store) PublishRecording(category string, wavData []byte, durationSeconds int) Handle {
	now := s.now()
	return s.publish(entry{
		handle: Handle{
			Filename:        Filename(category, now),
			DurationSeconds: durationSeconds,
			MimeType:        mime.WAV,
			Size:            len(wavData),
			Category:        category,
			Source:          SourceRecorded,
			CreatedAt:       now,
		},
		data: wavData,
	})
}

// PublishUpload stores a user-selected file unchanged. The original base
// filename is kept; an empty name is replaced by a generated one.
func (s *Store) PublishUpload(category, filename, mimeType string, data []byte, durationSeconds int) Handle {
	now := s.now()
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = fmt.Sprintf("%s_upload-%d.%s", category, now.UnixMilli(), mime.Extension(mimeType))
	}
	return s.publish(entry{
		handle: Handle{
			Filename:        name,
			DurationSeconds: durationSeconds,
			MimeType:        mimeType,
			Size:            len(data),
			Category:        category,
			Source:          SourceUploaded,
			CreatedAt:       now,
		},
		data: data,
	})
}

func (s *Store) publish(e entry) Handle {
	e.handle.Ref = RefPrefix + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if evicted := s.cache.Add(e.handle.Ref, e); evicted {
		slog.Info("output: store full, evicted oldest handle", "capacity", s.cache.Len())
	}
	slog.Info("output: handle published",
		"ref", e.handle.Ref,
		"filename", e.handle.Filename,
		"source", e.handle.Source,
		"bytes", e.handle.Size,
	)
	return e.handle
}

// Get returns the handle and bytes for ref and marks it recently used.
func (s *Store) Get(ref string) (Handle, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache.Get(ref)
	if !ok {
		return Handle{}, nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return e.handle, e.data, nil
}

// Lookup returns the handle for ref without its bytes and without touching
// recency.
func (s *Store) Lookup(ref string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache.Peek(ref)
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return e.handle, nil
}

// Revoke releases ref. It reports whether the reference existed.
func (s *Store) Revoke(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(ref)
}

// Len returns the number of live handles.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Resize changes the capacity, revoking the least recently used handles if
// the store shrinks. It returns the number of handles revoked.
func (s *Store) Resize(maxHandles int) int {
	if maxHandles <= 0 {
		maxHandles = DefaultMaxHandles
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Resize(maxHandles)
}

// Purge revokes every handle.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}
