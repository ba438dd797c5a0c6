// Package app wires the intake subsystems into a running agent.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Serve/Run expose the control surface until the context ends,
// ApplyConfig hot-reloads what can change without a restart, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithMetrics, WithClock). When an option is not provided, New creates real
// implementations from the config and the device registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/intakevox/internal/api"
	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/internal/config"
	"github.com/MrWong99/intakevox/internal/health"
	"github.com/MrWong99/intakevox/internal/intake"
	"github.com/MrWong99/intakevox/internal/observe"
	"github.com/MrWong99/intakevox/internal/output"
	"github.com/MrWong99/intakevox/pkg/audio/decode"
	"github.com/MrWong99/intakevox/pkg/audio/mime"
)

// readHeaderTimeout bounds slow clients on the control surface.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the intake agent.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	registry       *config.Registry
	level          *slog.LevelVar
	clock          capture.Clock
	metricsHandler http.Handler

	// Subsystems, initialised in New, torn down in Shutdown.
	device   capture.Device
	metrics  *observe.Metrics
	decoders *decode.Registry
	store    *output.Store
	flow     *intake.Flow
	service  *intake.Service
	health   *health.Handler
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the registry the capture device is created from.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithDevice injects a capture device instead of creating one from config.
func WithDevice(d capture.Device) Option {
	return func(a *App) { a.device = d }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h under GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets ApplyConfig change the level of the logger built around
// v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithClock replaces the system clock for capture sessions.
func WithClock(c capture.Clock) Option {
	return func(a *App) { a.clock = c }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	// ── 1. Capture device ────────────────────────────────────────────────
	if err := a.initDevice(); err != nil {
		return nil, fmt.Errorf("app: init device: %w", err)
	}

	// ── 2. Handle store ──────────────────────────────────────────────────
	store, err := output.NewStore(cfg.Output.MaxHandles,
		output.WithOnRelease(func(output.Handle) {
			a.metrics.PublishedHandles.Add(context.Background(), -1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() error { a.store.Purge(); return nil })

	// ── 3. Step flow + intake service ────────────────────────────────────
	if err := a.initService(); err != nil {
		return nil, fmt.Errorf("app: init service: %w", err)
	}

	// ── 4. Health checks + control surface ───────────────────────────────
	a.initHTTP()

	slog.InfoContext(ctx, "app initialised",
		"device", a.device.Name(),
		"steps", len(cfg.Steps),
		"max_handles", cfg.Output.MaxHandles,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDevice creates the capture device from the registry unless one was
// injected.
func (a *App) initDevice() error {
	if a.device == nil {
		if a.registry == nil {
			return errors.New("no device injected and no registry configured")
		}
		d, err := a.registry.CreateDevice(a.cfg.Device)
		if err != nil {
			return err
		}
		a.device = d
	}
	slog.Info("capture device ready", "device", a.device.Name(), "default_mime_type", a.device.DefaultMimeType())
	return nil
}

func (a *App) initService() error {
	flow, err := intake.FlowFromConfig(a.cfg.Steps)
	if err != nil {
		return err
	}
	a.flow = flow
	a.decoders = decode.NewRegistry()

	svc, err := intake.New(intake.ServiceConfig{
		Device:       capture.Exclusive(a.device),
		Flow:         flow,
		Store:        a.store,
		Decoders:     a.decoders,
		Metrics:      a.metrics,
		Candidates:   a.cfg.Capture.MimeCandidates,
		TickInterval: a.cfg.Capture.TickInterval,
		Clock:        a.clock,
	})
	if err != nil {
		return err
	}
	a.service = svc
	// The service must close before the store is purged.
	a.closers = append([]func() error{a.service.Close}, a.closers...)
	return nil
}

func (a *App) initHTTP() {
	checks := []health.Checker{
		health.DecoderCheck(a.decoders.Supports, mime.WAV, mime.PCM),
	}
	if p, ok := a.device.(health.Prober); ok {
		checks = append(checks, health.DeviceCheck(p))
	}
	a.health = health.New(checks...)

	srv := api.New(api.Config{
		Intake:     a.service,
		Recordings: a.store,
		Metrics:    a.metrics,
		Extra: func(mux *http.ServeMux) {
			a.health.Register(mux)
			if a.metricsHandler != nil {
				mux.Handle("GET /metrics", a.metricsHandler)
			}
		},
	})
	a.handler = srv.Handler()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the control surface handler.
func (a *App) Handler() http.Handler { return a.handler }

// Service returns the intake service.
func (a *App) Service() *intake.Service { return a.service }

// Store returns the handle store.
func (a *App) Store() *output.Store { return a.store }

// Config returns the config currently applied.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the control surface on ln until ctx is cancelled, then shuts
// the HTTP server down gracefully. It returns nil after a clean shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("control surface listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between the current
// config and next. Changes that need a restart are logged and otherwise
// ignored; the device keeps running with the settings it was created with.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()

	d := config.Diff(prev, next)
	if !d.Changed() {
		return d
	}

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StepsChanged {
		if err := a.flow.Replace(intake.StepsFromConfig(next.Steps)); err != nil {
			slog.Warn("step reload rejected, keeping previous steps", "err", err)
		} else {
			for _, sc := range d.StepChanges {
				slog.Info("step policy changed", "step", sc.Category,
					"added", sc.Added, "removed", sc.Removed,
					"min_duration", sc.MinDurationChanged, "auto_stop", sc.AutoStopChanged,
					"next", sc.NextChanged)
			}
		}
	}
	if d.MaxHandlesChanged {
		evicted := a.store.Resize(d.NewMaxHandles)
		slog.Info("handle store resized", "max_handles", d.NewMaxHandles, "evicted", evicted)
	}
	if d.CandidatesChanged {
		a.service.SetCandidates(next.Capture.MimeCandidates)
		slog.Info("mime candidates changed", "candidates", next.Capture.MimeCandidates)
	}
	if d.RestartRequired {
		slog.Warn("device or listen address changed; restart to apply")
	}

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
