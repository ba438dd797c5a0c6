// Package capture owns the microphone side of the intake flow.
//
// A [Session] is single-use: it is started once, records encoded chunks from
// a [Device] while tracking elapsed time, and is finalized exactly once by a
// manual [Session.Stop], by the auto-stop ceiling, or by [Session.Close].
// Whichever path runs first produces the [Recording] and releases the
// device; the others are no-ops.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/intakevox/pkg/audio/mime"
)

// Default session policy.
const (
	DefaultTickInterval = time.Second
	DefaultAutoStop     = 30 * time.Second
)

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateRecording
	StateStopping
	StateStopped
	StateFailed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Recording is the finalized raw container of one session.
type Recording struct {
	SessionID string
	Category  string

	// MimeType is the negotiated input type, including parameters.
	MimeType string

	// Chunks are the encoded fragments in arrival order.
	Chunks [][]byte

	// ElapsedSeconds is the whole number of seconds between the start of
	// recording and the stop.
	ElapsedSeconds int

	StartedAt time.Time
	StoppedAt time.Time

	// AutoStopped is true when the auto-stop ceiling ended the session.
	AutoStopped bool
}

// Size returns the total number of bytes across all chunks.
func (r Recording) Size() int {
	n := 0
	for _, c := range r.Chunks {
		n += len(c)
	}
	return n
}

// Option configures a [Session].
type Option func(*Session)

// WithCategory sets the category label carried into the [Recording].
func WithCategory(category string) Option {
	return func(s *Session) { s.category = category }
}

// WithCandidates sets the MIME types offered to the device, in priority
// order. Defaults to [mime.DefaultCandidates].
func WithCandidates(candidates []string) Option {
	return func(s *Session) { s.candidates = candidates }
}

// WithTickInterval sets the elapsed-time notification cadence.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithAutoStop sets the recording ceiling after which the session stops
// itself.
func WithAutoStop(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.autoStop = d
		}
	}
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithOnStop registers fn to be called exactly once with the finalized
// recording, whichever path stopped the session. fn runs on the goroutine
// that performed the stop.
func WithOnStop(fn func(Recording)) Option {
	return func(s *Session) { s.onStop = fn }
}

// Session is one capture from start to finalization.
// All exported methods are safe for concurrent use.
type Session struct {
	id           string
	device       Device
	category     string
	candidates   []string
	tickInterval time.Duration
	autoStop     time.Duration
	clock        Clock
	onStop       func(Recording)

	mu        sync.Mutex
	state     State
	closed    bool
	mimeType  string
	startedAt time.Time
	pending   [][]byte // chunks received while Requesting
	chunks    [][]byte
	lastTick  int
	timer     Timer
	quit      chan struct{}
	rec       Recording
	release   func()

	done chan struct{}
}

// New creates an idle session recording from device.
func New(device Device, opts ...Option) *Session {
	s := &Session{
		id:           uuid.NewString(),
		device:       device,
		candidates:   mime.DefaultCandidates,
		tickInterval: DefaultTickInterval,
		autoStop:     DefaultAutoStop,
		clock:        SystemClock(),
		release:      func() {},
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Category returns the category label.
func (s *Session) Category() string { return s.category }

// Done returns a channel that is closed once the session is finalized.
// It is never closed for sessions that fail to start.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MimeType returns the negotiated type, or "" before negotiation.
func (s *Session) MimeType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mimeType
}

// Elapsed returns whole seconds recorded so far. It is 0 before recording
// starts and frozen at the final value once stopped.
func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRecording:
		return s.elapsedLocked(s.clock.Now())
	case StateStopping, StateStopped:
		return s.rec.ElapsedSeconds
	default:
		return 0
	}
}

// Start requests the device and begins recording. onTick, if non-nil, is
// called roughly every tick interval with the elapsed whole seconds; values
// never decrease within a session and ticks may be coalesced under load.
// An initial tick with 0 is delivered before Start returns.
//
// Start fails with an error wrapping [ErrPermissionDenied] or
// [ErrDeviceUnavailable] when the device cannot be acquired; the session is
// then in [StateFailed] and holds no device.
func (s *Session) Start(ctx context.Context, onTick func(elapsed int)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRequesting
	s.mu.Unlock()

	mimeType, ok := mime.Negotiate(s.candidates, s.device.Supports)
	if !ok {
		mimeType = s.device.DefaultMimeType()
		slog.Debug("capture: no candidate supported, using device default",
			"session_id", s.id, "device", s.device.Name(), "mime", mimeType)
	}

	stream, err := s.device.Open(ctx, mimeType, s.appendChunk)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.pending = nil
		s.mu.Unlock()
		slog.Warn("capture: start failed", "session_id", s.id, "device", s.device.Name(), "err", err)
		return fmt.Errorf("capture: start: %w", err)
	}
	release := sync.OnceFunc(func() {
		if err := stream.Close(); err != nil {
			slog.Warn("capture: device release error", "session_id", s.id, "err", err)
		}
	})

	s.mu.Lock()
	if s.closed {
		// Owner went away while the device was being acquired.
		s.state = StateFailed
		s.pending = nil
		s.mu.Unlock()
		release()
		return ErrClosed
	}
	s.state = StateRecording
	s.mimeType = mimeType
	s.startedAt = s.clock.Now()
	s.chunks = s.pending
	s.pending = nil
	s.lastTick = 0
	s.release = release
	s.quit = make(chan struct{})
	s.timer = s.clock.AfterFunc(s.autoStop, func() { s.finish(true) })
	ticker := s.clock.NewTicker(s.tickInterval)
	quit := s.quit
	s.mu.Unlock()

	if onTick != nil {
		onTick(0)
	}
	go s.tickLoop(ticker, quit, onTick)

	slog.Info("capture: recording started",
		"session_id", s.id,
		"category", s.category,
		"device", s.device.Name(),
		"mime", mimeType,
		"auto_stop", s.autoStop,
	)
	return nil
}

// Stop finalizes the recording and releases the device. It is idempotent:
// once stopped, further calls return the same [Recording] without side
// effects. Calling Stop before Start has resolved returns [ErrNotRecording].
func (s *Session) Stop() (Recording, error) {
	s.mu.Lock()
	switch s.state {
	case StateRecording:
		s.mu.Unlock()
		return s.finish(false), nil
	case StateStopping:
		s.mu.Unlock()
		<-s.done
		return s.recording(), nil
	case StateStopped:
		rec := s.rec
		s.mu.Unlock()
		return rec, nil
	default:
		st := s.state
		s.mu.Unlock()
		return Recording{}, fmt.Errorf("%w (state %s)", ErrNotRecording, st)
	}
}

// Close tears the session down from the owner's side. A recording in
// progress is finalized as if Stop had been called; a pending Start releases
// the device as soon as it is acquired. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	recording := s.state == StateRecording
	s.mu.Unlock()

	if recording {
		s.finish(false)
	}
	return nil
}

func (s *Session) recording() Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// finish runs the stop path once. Losers of the manual/auto race return the
// winner's recording without touching the device.
func (s *Session) finish(auto bool) Recording {
	s.mu.Lock()
	if s.state != StateRecording {
		rec := s.rec
		s.mu.Unlock()
		return rec
	}
	s.state = StateStopping
	stoppedAt := s.clock.Now()
	s.rec = Recording{
		SessionID:      s.id,
		Category:       s.category,
		MimeType:       s.mimeType,
		ElapsedSeconds: s.elapsedLocked(stoppedAt),
		StartedAt:      s.startedAt,
		StoppedAt:      stoppedAt,
		AutoStopped:    auto,
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.quit)
	release := s.release
	s.mu.Unlock()

	// The device may flush trailing chunks while it is released; they are
	// still accepted in StateStopping.
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("capture: panic while releasing device", "session_id", s.id, "panic", r)
			}
		}()
		release()
	}()

	s.mu.Lock()
	s.rec.Chunks = s.chunks
	s.chunks = nil
	s.state = StateStopped
	rec := s.rec
	s.mu.Unlock()
	close(s.done)

	slog.Info("capture: recording stopped",
		"session_id", s.id,
		"category", s.category,
		"elapsed_s", rec.ElapsedSeconds,
		"chunks", len(rec.Chunks),
		"bytes", rec.Size(),
		"auto", auto,
	)

	if s.onStop != nil {
		s.onStop(rec)
	}
	return rec
}

// appendChunk is the device sink. Chunks are copied because devices may
// reuse their buffers.
func (s *Session) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRequesting:
		s.pending = append(s.pending, c)
	case StateRecording, StateStopping:
		s.chunks = append(s.chunks, c)
	}
}

func (s *Session) tickLoop(t Ticker, quit <-chan struct{}, onTick func(int)) {
	defer t.Stop()
	if onTick == nil {
		<-quit
		return
	}
	for {
		select {
		case <-quit:
			return
		case <-t.C():
			s.mu.Lock()
			if s.state != StateRecording {
				s.mu.Unlock()
				return
			}
			e := max(s.elapsedLocked(s.clock.Now()), s.lastTick)
			s.lastTick = e
			s.mu.Unlock()
			onTick(e)
		}
	}
}

func (s *Session) elapsedLocked(now time.Time) int {
	d := now.Sub(s.startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// FormatElapsed renders whole seconds as m:ss, e.g. 75 → "1:15".
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
