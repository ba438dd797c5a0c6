package capture

import "time"

// Clock abstracts the time source of a [Session] so tests can drive
// auto-stop and ticks without sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is a handle to a pending [Clock.AfterFunc] call.
type Timer interface {
	Stop() bool
}

// Ticker delivers ticks on C. Like [time.Ticker], slow receivers miss ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock returns a [Clock] backed by the time package. Durations are
// measured with the monotonic clock reading carried by [time.Now].
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (systemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (t systemTicker) C() <-chan time.Time { return t.t.C }
func (t systemTicker) Stop()               { t.t.Stop() }
