package capture

import (
	"context"
	"errors"
	"sync"
)

// Errors surfaced by devices and sessions.
var (
	// ErrPermissionDenied is returned when the user or OS refuses microphone
	// access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable is returned when no usable input device exists.
	ErrDeviceUnavailable = errors.New("capture: no input device available")

	// ErrDeviceBusy is returned when a device is still held by an earlier
	// session that has not released it.
	ErrDeviceBusy = errors.New("capture: input device is busy")

	// ErrNotRecording is returned by [Session.Stop] when the session never
	// reached the recording state.
	ErrNotRecording = errors.New("capture: session is not recording")

	// ErrAlreadyStarted is returned when Start is called on a session that
	// has already been started. Sessions are single-use.
	ErrAlreadyStarted = errors.New("capture: session already started")

	// ErrClosed is returned when the session was closed before or during
	// Start.
	ErrClosed = errors.New("capture: session closed")
)

// Stream is an open capture on a [Device]. Closing it stops capture and
// releases the device. Devices may deliver trailing chunks to the sink
// before Close returns; no chunks are delivered afterwards.
type Stream interface {
	Close() error
}

// Device is an audio input that can record in one or more MIME types.
//
// Implementations must be safe for concurrent use. Open should return errors
// wrapping [ErrPermissionDenied] or [ErrDeviceUnavailable] where applicable.
type Device interface {
	// Name identifies the device in logs.
	Name() string

	// Supports reports whether the device can record in mimeType.
	Supports(mimeType string) bool

	// DefaultMimeType is the type used when negotiation finds no match.
	DefaultMimeType() string

	// Open acquires the device and starts delivering encoded chunks to sink.
	// sink is called from a device-owned goroutine and must not block for
	// long; the chunk may be reused after sink returns.
	Open(ctx context.Context, mimeType string, sink func(chunk []byte)) (Stream, error)
}

// Exclusive wraps d so that at most one stream is open at a time. A second
// Open before the first stream is closed fails with [ErrDeviceBusy].
func Exclusive(d Device) Device {
	return &exclusiveDevice{Device: d}
}

type exclusiveDevice struct {
	Device

	mu   sync.Mutex
	held bool
}

func (e *exclusiveDevice) Open(ctx context.Context, mimeType string, sink func([]byte)) (Stream, error) {
	e.mu.Lock()
	if e.held {
		e.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	e.held = true
	e.mu.Unlock()

	st, err := e.Device.Open(ctx, mimeType, sink)
	if err != nil {
		e.unhold()
		return nil, err
	}
	return &heldStream{Stream: st, release: sync.OnceFunc(e.unhold)}, nil
}

func (e *exclusiveDevice) unhold() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
}

type heldStream struct {
	Stream
	release func()
}

func (h *heldStream) Close() error {
	defer h.release()
	return h.Stream.Close()
}
