// Command intakevox is the local intake agent: it owns the microphone,
// records the intake steps and serves the results to the UI over a loopback
// HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/intakevox/internal/app"
	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/internal/config"
	"github.com/MrWong99/intakevox/internal/observe"
	malgodev "github.com/MrWong99/intakevox/pkg/device/malgo"
	"github.com/MrWong99/intakevox/pkg/device/synth"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	listen := flag.String("listen", "", "override server.listen_addr")
	watchInterval := flag.Duration("watch-interval", 5*time.Second, "how often to poll the config file for changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	// The callback only fires from watcher.Run, after application is set.
	var application *app.App
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, func(_, next *config.Config) {
			if *listen != "" {
				next.Server.ListenAddr = *listen
			}
			application.ApplyConfig(next)
		}, config.WithInterval(*watchInterval))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "intakevox: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "intakevox: %v\n", err)
			}
			return 1
		}
		cfg = watcher.Current()
	} else {
		cfg = config.Default()
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger, closeLog := newLogger(cfg.Server, level)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("intakevox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceName:    "intakevox",
		ServiceVersion: version,
		Device:         cfg.Device.Name,
		ListenAddr:     cfg.Server.ListenAddr,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	tel.Install()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := tel.Metrics()
	if err != nil {
		slog.Error("failed to create metric instruments", "err", err)
		return 1
	}

	// ── Device registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinDevices(reg)

	printStartupSummary(cfg, reg)

	application, err = app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(promhttp.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	slog.Info("agent ready, press Ctrl+C to shut down")
	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Device wiring ─────────────────────────────────────────────────────────────

// registerBuiltinDevices wires the capture devices that ship with intakevox
// into reg.
func registerBuiltinDevices(reg *config.Registry) {
	reg.RegisterDevice(malgodev.Name, func(dc config.DeviceConfig) (capture.Device, error) {
		cfg, err := malgodev.ConfigFromOptions(dc.SampleRate, dc.Channels, dc.Options)
		if err != nil {
			return nil, err
		}
		return malgodev.New(cfg), nil
	})

	reg.RegisterDevice(synth.Name, func(dc config.DeviceConfig) (capture.Device, error) {
		cfg, err := synth.ConfigFromOptions(dc.SampleRate, dc.Channels, dc.Options)
		if err != nil {
			return nil, err
		}
		return synth.New(cfg), nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, reg *config.Registry) {
	steps := make([]string, 0, len(cfg.Steps))
	for _, s := range cfg.Steps {
		steps = append(steps, s.Category)
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       intakevox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Device", cfg.Device.Name)
	printRow("Available", strings.Join(reg.DeviceNames(), ", "))
	printRow("Steps", strings.Join(steps, " → "))
	printRow("MIME order", strings.Join(cfg.Capture.MimeCandidates, ", "))
	printRow("Auto-stop", cfg.Capture.AutoStop.String())
	printRow("Max handles", fmt.Sprint(cfg.Output.MaxHandles))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

// newLogger builds the text logger. When a log file is configured, output
// goes to stderr and to the size-rotated file.
func newLogger(sc config.ServerConfig, level *slog.LevelVar) (*slog.Logger, func()) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if sc.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   sc.LogFile,
			MaxSize:    sc.LogMaxSizeMB,
			MaxBackups: sc.LogMaxBackups,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closeFn = func() { _ = lj.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn
}
