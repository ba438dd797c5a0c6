package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/intakevox/internal/intake"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Kind       intake.Kind     `json:"kind"`
	Message    string          `json:"message"`
	MessageKey string          `json:"message_key"`
	Step       string          `json:"step,omitempty"`
	Result     *resultResponse `json:"result,omitempty"`
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(k intake.Kind) int {
	switch k {
	case intake.KindPermissionDenied:
		return http.StatusForbidden
	case intake.KindDeviceUnavailable:
		return http.StatusServiceUnavailable
	case intake.KindDecodeFailure, intake.KindDurationTooShort:
		return http.StatusUnprocessableEntity
	case intake.KindPlaybackFailure:
		return http.StatusNotFound
	case intake.KindBusy:
		return http.StatusConflict
	case intake.KindInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError classifies err and writes it. res is attached when the
// operation produced a partial result, e.g. a rejected recording.
func writeError(w http.ResponseWriter, r *http.Request, err error, res *resultResponse) {
	if cerr := r.Context().Err(); cerr != nil && errors.Is(err, cerr) {
		// Client went away.
		return
	}
	f := intake.Classify(err)
	status := statusFor(f.Kind)
	if status >= http.StatusInternalServerError {
		slog.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "kind", f.Kind, "err", err)
	}
	writeJSON(w, status, errorResponse{
		Kind:       f.Kind,
		Message:    f.Message,
		MessageKey: f.MessageKey,
		Step:       f.Step,
		Result:     res,
	})
}

// badRequest writes an invalid_request failure for malformed input.
func badRequest(w http.ResponseWriter, r *http.Request, step, msg string) {
	writeError(w, r, intake.InvalidRequest(step, msg), nil)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode response", "err", err)
	}
}
