// Package api serves the loopback control surface the intake UI talks to.
//
// Routes:
//
//	GET    /api/steps                              ordered step policy
//	POST   /api/steps/{step}/recording             start a capture
//	GET    /api/steps/{step}/recording             capture status
//	DELETE /api/steps/{step}/recording             stop and convert
//	GET    /api/steps/{step}/recording/ticks       WebSocket elapsed-time feed
//	POST   /api/steps/{step}/upload                multipart file fallback
//	POST   /api/steps/{step}/submit                confirm a reference
//	GET    /api/submissions                        submitted handles
//	GET    /recordings/{ref}                       playable reference
//	DELETE /recordings/{ref}                       revoke a reference
//
// Failures are JSON objects carrying the [intake.Kind], an English message
// and the UI translation key.
package api

import (
	"context"
	"net/http"

	"github.com/MrWong99/intakevox/internal/intake"
	"github.com/MrWong99/intakevox/internal/observe"
	"github.com/MrWong99/intakevox/internal/output"
)

// DefaultMaxUploadBytes bounds the multipart body of an upload.
const DefaultMaxUploadBytes = 64 << 20

// Intake is the part of [intake.Service] the server drives.
type Intake interface {
	Steps() []intake.Step
	Start(ctx context.Context, category string, onTick func(elapsed int)) error
	Stop(ctx context.Context) (intake.Result, error)
	Status() (intake.Status, bool)
	Watch(ctx context.Context, category string, fn func(elapsed int) error) error
	Upload(ctx context.Context, category, filename, mimeType string, data []byte) (intake.Result, error)
	Submit(ctx context.Context, category, ref string) (next string, h output.Handle, err error)
	Submissions() []output.Handle
}

// Recordings serves and revokes playable references.
type Recordings interface {
	Get(ref string) (output.Handle, []byte, error)
	Revoke(ref string) bool
}

// Config holds the dependencies of a [Server].
type Config struct {
	Intake     Intake
	Recordings Recordings

	// Metrics instruments the HTTP middleware. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Extra registers additional routes such as /healthz or /metrics on the
	// same mux.
	Extra func(mux *http.ServeMux)

	// MaxUploadBytes defaults to [DefaultMaxUploadBytes].
	MaxUploadBytes int64

	// OriginPatterns are the host patterns allowed to open the tick
	// WebSocket from another origin, e.g. "localhost:5173".
	OriginPatterns []string
}

// Server is the HTTP control surface.
type Server struct {
	intake     Intake
	recordings Recordings
	metrics    *observe.Metrics
	extra      func(*http.ServeMux)
	maxUpload  int64
	origins    []string
}

// New creates a Server. Intake and Recordings are required.
func New(cfg Config) *Server {
	s := &Server{
		intake:     cfg.Intake,
		recordings: cfg.Recordings,
		metrics:    cfg.Metrics,
		extra:      cfg.Extra,
		maxUpload:  cfg.MaxUploadBytes,
		origins:    cfg.OriginPatterns,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	return s
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/steps", s.handleSteps)
	mux.HandleFunc("POST /api/steps/{step}/recording", s.handleStart)
	mux.HandleFunc("GET /api/steps/{step}/recording", s.handleStatus)
	mux.HandleFunc("DELETE /api/steps/{step}/recording", s.handleStop)
	mux.HandleFunc("GET /api/steps/{step}/recording/ticks", s.handleTicks)
	mux.HandleFunc("POST /api/steps/{step}/upload", s.handleUpload)
	mux.HandleFunc("POST /api/steps/{step}/submit", s.handleSubmit)
	mux.HandleFunc("GET /api/submissions", s.handleSubmissions)
	mux.HandleFunc("GET /recordings/{ref}", s.handlePlayback)
	mux.HandleFunc("DELETE /recordings/{ref}", s.handleRevoke)
	if s.extra != nil {
		s.extra(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}
