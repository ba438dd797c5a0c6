// Package mock provides in-memory implementations of [capture.Device],
// [capture.Stream] and [capture.Clock] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	clk := mock.NewClock(time.Unix(0, 0))
//	dev := &mock.Device{MimeTypes: []string{"audio/pcm"}}
//	s := capture.New(dev, capture.WithClock(clk))
//	_ = s.Start(ctx, nil)
//	dev.Emit([]byte{0, 0})
//	clk.Advance(30 * time.Second) // auto-stop fires
package mock

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/intakevox/internal/capture"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	// MimeType is the negotiated type passed to Open.
	MimeType string
}

// Device is a mock implementation of [capture.Device].
// Set the exported fields before use; inspect the Call* fields after.
type Device struct {
	mu sync.Mutex

	// DeviceName is returned by [Device.Name]. Defaults to "mock".
	DeviceName string

	// MimeTypes lists the types reported by [Device.Supports]. A nil slice
	// supports nothing, forcing the default type.
	MimeTypes []string

	// DefaultType is returned by [Device.DefaultMimeType]. Defaults to
	// "audio/pcm".
	DefaultType string

	// OpenError is returned by [Device.Open] when non-nil.
	OpenError error

	// OpenChunks are delivered to the sink before Open returns.
	OpenChunks [][]byte

	// FlushChunk, if non-nil, is delivered to the sink when the stream is
	// closed, before Close returns.
	FlushChunk []byte

	// CloseError is returned by [Stream.Close].
	CloseError error

	// OpenGate, if non-nil, blocks Open until it is closed or receives.
	OpenGate chan struct{}

	// CallCountSupports records how many times Supports was called.
	CallCountSupports int

	// OpenCalls records the arguments of every Open call.
	OpenCalls []OpenCall

	// CallCountClose records how many times a stream opened by this device
	// was closed.
	CallCountClose int

	sink func([]byte)
	open bool
}

// Name implements [capture.Device].
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DeviceName == "" {
		return "mock"
	}
	return d.DeviceName
}

// Supports implements [capture.Device].
func (d *Device) Supports(mimeType string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountSupports++
	return slices.Contains(d.MimeTypes, mimeType)
}

// DefaultMimeType implements [capture.Device].
func (d *Device) DefaultMimeType() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DefaultType == "" {
		return "audio/pcm"
	}
	return d.DefaultType
}

// Open implements [capture.Device].
func (d *Device) Open(ctx context.Context, mimeType string, sink func([]byte)) (capture.Stream, error) {
	d.mu.Lock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{MimeType: mimeType})
	gate := d.OpenGate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	if d.OpenError != nil {
		err := d.OpenError
		d.mu.Unlock()
		return nil, err
	}
	d.sink = sink
	d.open = true
	initial := d.OpenChunks
	d.mu.Unlock()

	for _, c := range initial {
		sink(c)
	}
	return &Stream{dev: d}, nil
}

// Emit delivers chunk to the sink of the currently open stream. It reports
// false when no stream is open.
func (d *Device) Emit(chunk []byte) bool {
	d.mu.Lock()
	sink, open := d.sink, d.open
	d.mu.Unlock()
	if !open {
		return false
	}
	sink(chunk)
	return true
}

// IsOpen reports whether a stream is currently open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Closes returns CallCountClose under the lock.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose
}

// Stream is the [capture.Stream] returned by [Device.Open].
type Stream struct {
	dev *Device
}

// Close implements [capture.Stream]. Every call is counted so tests can
// detect double releases.
func (s *Stream) Close() error {
	d := s.dev
	d.mu.Lock()
	d.CallCountClose++
	sink, flush := d.sink, d.FlushChunk
	d.mu.Unlock()

	if flush != nil && sink != nil {
		sink(flush)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.sink = nil
	return d.CloseError
}

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a manually advanced [capture.Clock]. Timers fire synchronously on
// the goroutine calling [Clock.Advance]; tickers deliver without blocking and
// drop ticks when their buffer is full, like [time.Ticker].
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*timer
	tickers []*ticker
}

// NewClock returns a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now implements [capture.Clock].
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements [capture.Clock].
func (c *Clock) AfterFunc(d time.Duration, f func()) capture.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// NewTicker implements [capture.Clock].
func (c *Clock) NewTicker(d time.Duration) capture.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &ticker{clock: c, period: d, next: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// PendingTimers returns the number of timers that have neither fired nor
// been stopped.
func (c *Clock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward by d, firing due timers in deadline order
// and sending due ticks.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			c.now = target
			c.fireTickersLocked()
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		if t.at.After(c.now) {
			c.now = t.at
		}
		c.fireTickersLocked()
		c.mu.Unlock()

		t.f()
	}
}

func (c *Clock) fireTickersLocked() {
	for _, t := range c.tickers {
		for !t.next.After(c.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

func (c *Clock) removeTimer(t *timer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.timers {
		if x == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Clock) removeTicker(t *ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.tickers {
		if x == t {
			c.tickers = append(c.tickers[:i], c.tickers[i+1:]...)
			return
		}
	}
}

type timer struct {
	clock *Clock
	at    time.Time
	f     func()
}

func (t *timer) Stop() bool { return t.clock.removeTimer(t) }

type ticker struct {
	clock  *Clock
	period time.Duration
	next   time.Time
	ch     chan time.Time
}

func (t *ticker) C() <-chan time.Time { return t.ch }
func (t *ticker) Stop()               { t.clock.removeTicker(t) }
