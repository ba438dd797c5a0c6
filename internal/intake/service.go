// Package intake runs the recording steps of the intake flow.
//
// A [Service] owns at most one active capture at a time. Manual stop and
// auto-stop both end in the same finalize path: the captured chunks are
// decoded, downmixed and resampled to 44.1 kHz mono, WAV-encoded, checked
// against the step's minimum duration and, when accepted, published as a
// playable [output.Handle]. Failures are reported as [*Failure] values
// carrying a [Kind] the UI can act on.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/internal/gate"
	"github.com/MrWong99/intakevox/internal/observe"
	"github.com/MrWong99/intakevox/internal/output"
	"github.com/MrWong99/intakevox/pkg/audio"
	"github.com/MrWong99/intakevox/pkg/audio/decode"
	"github.com/MrWong99/intakevox/pkg/audio/mime"
	"github.com/MrWong99/intakevox/pkg/audio/wav"
)

var (
	// ErrBusy is returned by Start while another capture is still running.
	ErrBusy = errors.New("intake: a capture is already in progress")

	// ErrUnknownStep is returned for a step the flow does not define.
	ErrUnknownStep = errors.New("intake: unknown step")

	// ErrStepMismatch is returned when a reference is submitted for a step
	// other than the one it was recorded for.
	ErrStepMismatch = errors.New("intake: reference belongs to another step")

	// ErrTooShort is wrapped by the failure returned for recordings the
	// duration gate rejects.
	ErrTooShort = errors.New("intake: recording too short")

	// ErrEmptyUpload is returned when an uploaded file has no content.
	ErrEmptyUpload = errors.New("intake: empty upload")

	// ErrClosed is returned after [Service.Close].
	ErrClosed = errors.New("intake: service closed")
)

// Result describes a finalized recording or upload.
type Result struct {
	// Step is the category of the step the result belongs to.
	Step string

	// SessionID identifies the capture session. Empty for uploads.
	SessionID string

	// MimeType is the negotiated capture type or the uploaded file's type.
	MimeType string

	// ElapsedSeconds is the recording length in whole seconds.
	ElapsedSeconds int

	// AutoStopped is true when the recording hit the step's ceiling.
	AutoStopped bool

	// Verdict is the duration gate outcome.
	Verdict gate.Verdict

	// Handle is the published output. Zero when the recording was rejected
	// or could not be converted.
	Handle output.Handle
}

// Status describes the active capture.
type Status struct {
	Step      string
	SessionID string
	State     capture.State
	MimeType  string
	Elapsed   int
}

// ServiceConfig holds all dependencies for a [Service].
type ServiceConfig struct {
	// Device is the capture device. Wrap it with [capture.Exclusive] when
	// other components may also open it.
	Device capture.Device

	// Flow orders the steps. Required.
	Flow *Flow

	// Store receives published recordings and uploads. Required.
	Store *output.Store

	// Decoders converts captured chunks. Defaults to [decode.NewRegistry].
	Decoders *decode.Registry

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Candidates is the MIME negotiation order. Defaults to
	// [mime.DefaultCandidates].
	Candidates []string

	// TickInterval is the elapsed-time cadence. Defaults to
	// [capture.DefaultTickInterval].
	TickInterval time.Duration

	// Clock replaces the system clock for capture sessions.
	Clock capture.Clock
}

// Service runs capture sessions for the intake flow. Only one capture can be
// active at a time. All exported methods are safe for concurrent use.
type Service struct {
	device       capture.Device
	flow         *Flow
	store        *output.Store
	decoders     *decode.Registry
	metrics      *observe.Metrics
	tickInterval time.Duration
	clock        capture.Clock

	mu         sync.Mutex
	candidates []string
	active     *run
	submitted  map[string]output.Handle
	closed     bool
}

// run is one capture owned by the service.
type run struct {
	step    Step
	session *capture.Session

	// finalized is closed once result and err are set.
	finalized chan struct{}
	result    Result
	err       error

	tickMu  sync.Mutex
	elapsed int
	changed chan struct{}
}

func (r *run) tick(elapsed int) {
	r.tickMu.Lock()
	r.elapsed = elapsed
	close(r.changed)
	r.changed = make(chan struct{})
	r.tickMu.Unlock()
}

func (r *run) latest() (int, <-chan struct{}) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	return r.elapsed, r.changed
}

func (r *run) isFinalized() bool {
	select {
	case <-r.finalized:
		return true
	default:
		return false
	}
}

// New creates a Service from cfg.
func New(cfg ServiceConfig) (*Service, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("intake: device is required")
	}
	if cfg.Flow == nil {
		return nil, fmt.Errorf("intake: flow is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("intake: output store is required")
	}
	s := &Service{
		device:       cfg.Device,
		flow:         cfg.Flow,
		store:        cfg.Store,
		decoders:     cfg.Decoders,
		metrics:      cfg.Metrics,
		tickInterval: cfg.TickInterval,
		clock:        cfg.Clock,
		candidates:   slices.Clone(cfg.Candidates),
		submitted:    make(map[string]output.Handle),
	}
	if s.decoders == nil {
		s.decoders = decode.NewRegistry()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if len(s.candidates) == 0 {
		s.candidates = slices.Clone(mime.DefaultCandidates)
	}
	return s, nil
}

// Flow returns the service's flow. Replacing its steps affects captures
// started afterwards.
func (s *Service) Flow() *Flow { return s.flow }

// Steps returns the flow's steps in order.
func (s *Service) Steps() []Step { return s.flow.Steps() }

// SetCandidates replaces the MIME negotiation order for future captures.
func (s *Service) SetCandidates(candidates []string) {
	if len(candidates) == 0 {
		candidates = mime.DefaultCandidates
	}
	s.mu.Lock()
	s.candidates = slices.Clone(candidates)
	s.mu.Unlock()
}

// Start begins recording for the step named category. onTick, if non-nil,
// receives the elapsed whole seconds on every tick. Start fails with
// [KindBusy] while another capture has not been finalized.
func (s *Service) Start(ctx context.Context, category string, onTick func(elapsed int)) (err error) {
	ctx, span := observe.StartSpan(ctx, "intake.start",
		trace.WithAttributes(attribute.String("step", category)))
	defer func() { observe.EndSpan(span, err) }()

	step, err := s.flow.Step(category)
	if err != nil {
		return s.fail(ctx, category, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.fail(ctx, category, ErrClosed)
	}
	if s.active != nil && !s.active.isFinalized() {
		busy := s.active.step.Category
		s.mu.Unlock()
		return s.fail(ctx, category, fmt.Errorf("%w (step %q)", ErrBusy, busy))
	}

	r := &run{
		step:      step,
		finalized: make(chan struct{}),
		changed:   make(chan struct{}),
	}
	opts := []capture.Option{
		capture.WithCategory(step.Category),
		capture.WithCandidates(s.candidates),
		capture.WithTickInterval(s.tickInterval),
		capture.WithAutoStop(step.AutoStop),
		capture.WithOnStop(func(rec capture.Recording) { s.finalize(r, rec) }),
	}
	if s.clock != nil {
		opts = append(opts, capture.WithClock(s.clock))
	}
	r.session = capture.New(s.device, opts...)
	s.active = r
	s.mu.Unlock()

	span.SetAttributes(attribute.String("session_id", r.session.ID()))
	s.metrics.ActiveCaptures.Add(ctx, 1)

	err = r.session.Start(ctx, func(elapsed int) {
		r.tick(elapsed)
		if onTick != nil {
			onTick(elapsed)
		}
	})
	if err != nil {
		s.metrics.ActiveCaptures.Add(ctx, -1)
		s.mu.Lock()
		if s.active == r {
			s.active = nil
		}
		s.mu.Unlock()
		return s.fail(ctx, category, err)
	}
	return nil
}

// Stop ends the active capture and returns its result once finalization
// has completed. Stop is idempotent: after the capture has been finalized,
// by an earlier Stop or by auto-stop, it returns the same result and error
// again. A rejected recording returns its result together with a
// [KindDurationTooShort] failure.
func (s *Service) Stop(ctx context.Context) (res Result, err error) {
	ctx, span := observe.StartSpan(ctx, "intake.stop")
	defer func() { observe.EndSpan(span, err) }()

	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return Result{}, s.fail(ctx, "", capture.ErrNotRecording)
	}
	span.SetAttributes(attribute.String("step", r.step.Category))

	if _, err := r.session.Stop(); err != nil {
		return Result{}, s.fail(ctx, r.step.Category, err)
	}
	select {
	case <-r.finalized:
	case <-ctx.Done():
		return Result{}, s.fail(ctx, r.step.Category, ctx.Err())
	}
	return r.result, r.err
}

// Status reports the active capture. ok is false when no capture has been
// started or the last one failed to start.
func (s *Service) Status() (st Status, ok bool) {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return Status{}, false
	}
	return Status{
		Step:      r.step.Category,
		SessionID: r.session.ID(),
		State:     r.session.State(),
		MimeType:  r.session.MimeType(),
		Elapsed:   r.session.Elapsed(),
	}, true
}

// Watch calls fn with the elapsed seconds of the active capture for
// category until the capture is finalized, ctx is done or fn returns an
// error. Values are coalesced: fn sees the latest value, never a decrease.
// The final elapsed value is delivered before Watch returns nil.
func (s *Service) Watch(ctx context.Context, category string, fn func(elapsed int) error) error {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil || r.step.Category != category || r.isFinalized() {
		return Classify(fmt.Errorf("%w: step %q", capture.ErrNotRecording, category))
	}

	last := -1
	for {
		elapsed, changed := r.latest()
		if elapsed > last {
			if err := fn(elapsed); err != nil {
				return err
			}
			last = elapsed
		}
		select {
		case <-changed:
		case <-r.finalized:
			if final := r.result.ElapsedSeconds; final > last {
				return fn(final)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// finalize is the single stop path, invoked once per session by the
// capture layer.
func (s *Service) finalize(r *run, rec capture.Recording) {
	ctx, span := observe.StartSpan(context.Background(), "intake.finalize",
		trace.WithAttributes(
			attribute.String("step", rec.Category),
			attribute.String("session_id", rec.SessionID),
			attribute.String("mime", rec.MimeType),
			attribute.Int("elapsed_s", rec.ElapsedSeconds),
			attribute.Bool("auto_stopped", rec.AutoStopped),
		))

	s.metrics.ActiveCaptures.Add(ctx, -1)
	s.metrics.RecordCapture(ctx, rec.Category, rec.StoppedAt.Sub(rec.StartedAt).Seconds(), rec.AutoStopped)

	res, err := s.convert(ctx, r.step, rec)
	observe.EndSpan(span, err)
	if err != nil {
		f := classify(r.step.Category, err)
		s.metrics.RecordCaptureError(ctx, r.step.Category, string(f.Kind))
		observe.Logger(ctx).Warn("intake: recording not accepted",
			"step", r.step.Category,
			"kind", f.Kind,
			"err", err,
		)
		r.err = f
	}
	r.result = res
	close(r.finalized)
}

// convert decodes, resamples and encodes rec, applies the duration gate and
// publishes the WAV when accepted.
func (s *Service) convert(ctx context.Context, step Step, rec capture.Recording) (Result, error) {
	res := Result{
		Step:           step.Category,
		SessionID:      rec.SessionID,
		MimeType:       rec.MimeType,
		ElapsedSeconds: rec.ElapsedSeconds,
		AutoStopped:    rec.AutoStopped,
		Verdict:        gate.Gate{Minimum: step.MinDuration}.Evaluate(rec.ElapsedSeconds),
	}

	start := time.Now()
	wavData, err := s.encode(rec.MimeType, rec.Chunks)
	status, label := "ok", res.Verdict.Label()
	if err != nil {
		status = "error"
		if res.Verdict.Accepted {
			label = "failed"
		}
	}
	s.metrics.RecordConversion(ctx, mime.Base(rec.MimeType), status, time.Since(start).Seconds())
	s.metrics.RecordRecording(ctx, step.Category, string(output.SourceRecorded), label)

	if !res.Verdict.Accepted {
		slog.Info("intake: recording rejected", "step", step.Category, "verdict", res.Verdict.String())
		return res, tooShort(step.Category, res.Verdict.ElapsedSeconds, res.Verdict.Minimum)
	}
	if err != nil {
		return res, fmt.Errorf("intake: convert %s recording: %w", step.Category, err)
	}

	res.Handle = s.store.PublishRecording(step.Category, wavData, rec.ElapsedSeconds)
	s.metrics.PublishedHandles.Add(ctx, 1)
	return res, nil
}

// encode turns captured chunks into a 44.1 kHz mono 16-bit WAV file. A
// decoder panic is reported as malformed input; finalize may run on the
// auto-stop timer goroutine, where a panic would end the process.
func (s *Service) encode(mimeType string, chunks [][]byte) (_ []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s decoder panicked: %v", decode.ErrMalformed, mime.Base(mimeType), p)
		}
	}()
	decoded, err := s.decoders.Decode(mimeType, chunks)
	if err != nil {
		return nil, err
	}
	return wav.Encode(audio.ToMono44100(decoded)), nil
}

// Upload publishes a user-selected file for the step named category. The
// file is kept as-is under its original name. WAV and MP3 files are parsed
// to determine their duration; other types are accepted with an unknown
// (zero) duration. Uploads are not subject to the duration gate.
func (s *Service) Upload(ctx context.Context, category, filename, mimeType string, data []byte) (res Result, err error) {
	ctx, span := observe.StartSpan(ctx, "intake.upload",
		trace.WithAttributes(
			attribute.String("step", category),
			attribute.Int("bytes", len(data)),
		))
	defer func() { observe.EndSpan(span, err) }()

	step, err := s.flow.Step(category)
	if err != nil {
		return Result{}, s.fail(ctx, category, err)
	}
	if len(data) == 0 {
		return Result{}, s.fail(ctx, category, ErrEmptyUpload)
	}
	if base := mime.Base(mimeType); base == "" || base == "application/octet-stream" {
		if t, ok := mime.FromExtension(path.Ext(filename)); ok {
			mimeType = t
		}
	}

	seconds, err := uploadDuration(s.decoders, mimeType, data)
	if err != nil {
		return Result{}, s.fail(ctx, category, fmt.Errorf("intake: upload %q: %w", filename, err))
	}

	h := s.store.PublishUpload(category, filename, mimeType, data, seconds)
	s.metrics.PublishedHandles.Add(ctx, 1)
	s.metrics.RecordRecording(ctx, category, string(output.SourceUploaded), "accepted")

	return Result{
		Step:           category,
		MimeType:       mimeType,
		ElapsedSeconds: seconds,
		Verdict:        gate.Verdict{Accepted: true, ElapsedSeconds: seconds, Minimum: step.MinDuration},
		Handle:         h,
	}, nil
}

func uploadDuration(decoders *decode.Registry, mimeType string, data []byte) (int, error) {
	switch mime.Base(mimeType) {
	case mime.WAV, "audio/wave", "audio/x-wav":
		h, err := wav.ParseHeader(data)
		if err != nil {
			return 0, err
		}
		return int(h.Duration() / time.Second), nil
	case mime.MPEG, "audio/mp3":
		d, err := decoders.Decode(mimeType, [][]byte{data})
		if err != nil {
			return 0, err
		}
		return int(d.Duration() / time.Second), nil
	}
	return 0, nil
}

// Submit confirms the handle ref for the step named category and returns the
// next step together with the submitted handle.
func (s *Service) Submit(ctx context.Context, category, ref string) (next string, h output.Handle, err error) {
	ctx, span := observe.StartSpan(ctx, "intake.submit",
		trace.WithAttributes(attribute.String("step", category)))
	defer func() { observe.EndSpan(span, err) }()

	step, err := s.flow.Step(category)
	if err != nil {
		return "", output.Handle{}, s.fail(ctx, category, err)
	}
	h, err = s.store.Lookup(ref)
	if err != nil {
		return "", output.Handle{}, s.fail(ctx, category, err)
	}
	if h.Category != category {
		return "", output.Handle{}, s.fail(ctx, category,
			fmt.Errorf("%w: %s was recorded for %q", ErrStepMismatch, ref, h.Category))
	}

	s.mu.Lock()
	s.submitted[category] = h
	s.mu.Unlock()

	slog.Info("intake: step submitted", "step", category, "ref", ref, "filename", h.Filename, "next", step.Next)
	return step.Next, h, nil
}

// Submissions returns the submitted handles in flow order. Steps without a
// submission are skipped.
func (s *Service) Submissions() []output.Handle {
	steps := s.flow.Steps()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]output.Handle, 0, len(s.submitted))
	for _, st := range steps {
		if h, ok := s.submitted[st.Category]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Close finalizes any capture in progress and rejects further Starts. It is
// idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	r := s.active
	s.mu.Unlock()

	if r != nil {
		if err := r.session.Close(); err != nil {
			return fmt.Errorf("intake: close session: %w", err)
		}
	}
	return nil
}

// fail classifies err, records it and returns the [*Failure].
func (s *Service) fail(ctx context.Context, step string, err error) error {
	f := classify(step, err)
	s.metrics.RecordCaptureError(ctx, step, string(f.Kind))
	observe.Logger(ctx).Warn("intake: operation failed", "step", step, "kind", f.Kind, "err", err)
	return f
}
