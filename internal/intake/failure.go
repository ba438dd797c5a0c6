package intake

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/internal/config"
	"github.com/MrWong99/intakevox/internal/output"
	"github.com/MrWong99/intakevox/pkg/audio"
	"github.com/MrWong99/intakevox/pkg/audio/decode"
	"github.com/MrWong99/intakevox/pkg/audio/wav"
)

// Kind classifies an intake failure for the UI collaborator.
type Kind string

const (
	KindPermissionDenied  Kind = "permission_denied"
	KindDeviceUnavailable Kind = "device_unavailable"
	KindDecodeFailure     Kind = "decode_failure"
	KindDurationTooShort  Kind = "duration_too_short"
	KindPlaybackFailure   Kind = "playback_failure"
	KindBusy              Kind = "busy"
	KindInvalidRequest    Kind = "invalid_request"
	KindInternal          Kind = "internal"
)

// Failure is the typed error returned across the API boundary. Message is an
// English fallback; MessageKey is the translation key the UI resolves.
type Failure struct {
	Kind       Kind
	Step       string
	Message    string
	MessageKey string
	Err        error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("intake: %s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("intake: %s: %s", f.Kind, f.Message)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// Classify converts any error into a [Failure]. An error that already wraps a
// Failure is returned as that Failure. nil yields nil.
func Classify(err error) *Failure {
	return classify("", err)
}

func classify(step string, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	kind := kindOf(err)
	return &Failure{
		Kind:       kind,
		Step:       step,
		Message:    defaultMessage(kind, err),
		MessageKey: messageKey(kind, step),
		Err:        err,
	}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, config.ErrDeviceNotRegistered):
		return KindDeviceUnavailable
	case errors.Is(err, capture.ErrDeviceBusy),
		errors.Is(err, capture.ErrAlreadyStarted),
		errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, decode.ErrUnsupported),
		errors.Is(err, decode.ErrMalformed),
		errors.Is(err, audio.ErrInvalidAudio),
		errors.Is(err, wav.ErrInvalidHeader),
		errors.Is(err, ErrEmptyUpload):
		return KindDecodeFailure
	case errors.Is(err, ErrTooShort):
		return KindDurationTooShort
	case errors.Is(err, output.ErrNotFound):
		return KindPlaybackFailure
	case errors.Is(err, ErrUnknownStep),
		errors.Is(err, ErrStepMismatch),
		errors.Is(err, capture.ErrNotRecording):
		return KindInvalidRequest
	}
	return KindInternal
}

func defaultMessage(kind Kind, err error) string {
	switch kind {
	case KindPermissionDenied:
		return "Microphone access denied."
	case KindDeviceUnavailable:
		return "No microphone is available."
	case KindDecodeFailure:
		return "Could not convert recording to WAV."
	case KindDurationTooShort:
		return "Recording is too short. Please try again."
	case KindPlaybackFailure:
		return "No audio attached. Go back and record/upload a file."
	case KindBusy:
		return "A recording is already in progress."
	case KindInvalidRequest:
		return err.Error()
	}
	return "Something went wrong. Please try again."
}

// messageKey follows the UI's translation namespaces, e.g.
// "recordCough.microphoneAccessError".
func messageKey(kind Kind, step string) string {
	if kind == KindPlaybackFailure {
		return "uploadComplete.noAudio"
	}
	ns := "intake"
	if step != "" {
		r, n := utf8.DecodeRuneInString(step)
		ns = "record" + string(unicode.ToUpper(r)) + strings.ToLower(step[n:])
	}
	switch kind {
	case KindPermissionDenied:
		return ns + ".microphoneAccessError"
	case KindDurationTooShort:
		return ns + ".minimum_duration_title"
	}
	return ns + ".error"
}

// tooShort builds the failure returned for a rejected recording.
func tooShort(step string, elapsed, minimum int) *Failure {
	return &Failure{
		Kind:       KindDurationTooShort,
		Step:       step,
		Message:    fmt.Sprintf("Recording is too short (%ds). Please record at least %d seconds.", elapsed, minimum),
		MessageKey: messageKey(KindDurationTooShort, step),
		Err:        ErrTooShort,
	}
}

// InvalidRequest builds the failure returned for malformed input at the API
// boundary.
func InvalidRequest(step, msg string) *Failure {
	return &Failure{
		Kind:       KindInvalidRequest,
		Step:       step,
		Message:    msg,
		MessageKey: messageKey(KindInvalidRequest, step),
	}
}
