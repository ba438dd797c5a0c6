package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/internal/intake"
	"github.com/MrWong99/intakevox/internal/output"
	"github.com/MrWong99/intakevox/pkg/audio/mime"
)

// stepResponse describes one step of the flow.
type stepResponse struct {
	Category        string `json:"category"`
	Next            string `json:"next"`
	MinDuration     int    `json:"min_duration_seconds"`
	AutoStopSeconds int    `json:"auto_stop_seconds"`
}

// statusResponse describes the active capture.
type statusResponse struct {
	Step      string `json:"step"`
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	MimeType  string `json:"mime_type"`
	Elapsed   int    `json:"elapsed"`
	Display   string `json:"display"`
}

// resultResponse describes a finalized recording or upload.
type resultResponse struct {
	Step           string         `json:"step"`
	SessionID      string         `json:"session_id,omitempty"`
	MimeType       string         `json:"mime_type"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	Display        string         `json:"display"`
	AutoStopped    bool           `json:"auto_stopped"`
	Accepted       bool           `json:"accepted"`
	MinimumSeconds int            `json:"minimum_seconds"`
	Handle         *output.Handle `json:"handle,omitempty"`
	URL            string         `json:"url,omitempty"`
}

// submitRequest is the JSON body of the submit endpoint.
type submitRequest struct {
	Ref string `json:"ref"`
}

// submitResponse is returned from the submit endpoint.
type submitResponse struct {
	NextStep string `json:"next_step"`
	Ref      string `json:"ref"`
	Filename string `json:"filename"`
}

// playbackURL is the path a handle is served under.
func playbackURL(ref string) string {
	return "/recordings/" + url.PathEscape(ref)
}

func newStatusResponse(st intake.Status) statusResponse {
	return statusResponse{
		Step:      st.Step,
		SessionID: st.SessionID,
		State:     st.State.String(),
		MimeType:  st.MimeType,
		Elapsed:   st.Elapsed,
		Display:   capture.FormatElapsed(st.Elapsed),
	}
}

func newResultResponse(res intake.Result) *resultResponse {
	out := &resultResponse{
		Step:           res.Step,
		SessionID:      res.SessionID,
		MimeType:       res.MimeType,
		ElapsedSeconds: res.ElapsedSeconds,
		Display:        capture.FormatElapsed(res.ElapsedSeconds),
		AutoStopped:    res.AutoStopped,
		Accepted:       res.Verdict.Accepted,
		MinimumSeconds: res.Verdict.Minimum,
	}
	if res.Handle.Ref != "" {
		h := res.Handle
		out.Handle = &h
		out.URL = playbackURL(h.Ref)
	}
	return out
}

// handleSteps handles GET /api/steps.
func (s *Server) handleSteps(w http.ResponseWriter, _ *http.Request) {
	steps := s.intake.Steps()
	out := make([]stepResponse, 0, len(steps))
	for _, st := range steps {
		out = append(out, stepResponse{
			Category:        st.Category,
			Next:            st.Next,
			MinDuration:     st.MinDuration,
			AutoStopSeconds: int(st.AutoStop.Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStart handles POST /api/steps/{step}/recording. Tick updates are
// delivered over the ticks WebSocket, not through this request.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	step := r.PathValue("step")
	if err := s.intake.Start(r.Context(), step, nil); err != nil {
		writeError(w, r, err, nil)
		return
	}
	st, ok := s.intake.Status()
	if !ok {
		writeError(w, r, fmt.Errorf("api: capture for %q vanished after start", step), nil)
		return
	}
	writeJSON(w, http.StatusCreated, newStatusResponse(st))
}

// handleStatus handles GET /api/steps/{step}/recording.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	step := r.PathValue("step")
	st, ok := s.intake.Status()
	if !ok || st.Step != step {
		writeError(w, r, fmt.Errorf("%w: step %q", capture.ErrNotRecording, step), nil)
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(st))
}

// handleStop handles DELETE /api/steps/{step}/recording. A recording the
// duration gate rejects is reported as a duration_too_short failure with
// the result attached.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	step := r.PathValue("step")
	if st, ok := s.intake.Status(); ok && st.Step != step {
		writeError(w, r, fmt.Errorf("%w: active capture is for step %q", intake.ErrStepMismatch, st.Step), nil)
		return
	}
	res, err := s.intake.Stop(r.Context())
	if err != nil {
		var partial *resultResponse
		if res.Step != "" {
			partial = newResultResponse(res)
		}
		writeError(w, r, err, partial)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

// handleUpload handles POST /api/steps/{step}/upload. The file is read from
// the "file" form field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	step := r.PathValue("step")
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(w, r, step, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		badRequest(w, r, step, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, r, step, "failed to read upload")
		return
	}

	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" {
		if t, ok := mime.FromExtension(path.Ext(hdr.Filename)); ok {
			mimeType = t
		}
	}

	res, err := s.intake.Upload(r.Context(), step, hdr.Filename, mimeType, data)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, newResultResponse(res))
}

// handleSubmit handles POST /api/steps/{step}/submit.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	step := r.PathValue("step")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, step, "invalid request body")
		return
	}
	if req.Ref == "" {
		badRequest(w, r, step, "ref is required")
		return
	}

	next, h, err := s.intake.Submit(r.Context(), step, req.Ref)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{NextStep: next, Ref: h.Ref, Filename: h.Filename})
}

// handleSubmissions handles GET /api/submissions.
func (s *Server) handleSubmissions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.intake.Submissions())
}

// handlePlayback handles GET /recordings/{ref}. Range requests are served
// so the UI can scrub.
func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	h, data, err := s.recordings.Get(r.PathValue("ref"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", h.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", h.Filename))
	http.ServeContent(w, r, h.Filename, h.CreatedAt, bytes.NewReader(data))
}

// handleRevoke handles DELETE /recordings/{ref}.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if !s.recordings.Revoke(r.PathValue("ref")) {
		writeError(w, r, output.ErrNotFound, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
