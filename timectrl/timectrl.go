package timectrl

import "time"

// Clock is the time source used by belts and the delivery router. It allows
// the engine to depend on a clock abstraction rather than package time,
// enabling deterministic tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker returns a ticker that fires every d.
	NewTicker(d time.Duration) Ticker
	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Ticker delivers ticks at a fixed interval. Like time.Ticker, ticks are
// dropped rather than queued when the receiver falls behind.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickInterval converts a rate in ticks per second into a ticker period.
// Non-positive rates fall back to 60 ticks per second.
func TickInterval(rate float64) time.Duration {
	if rate <= 0 {
		rate = 60
	}
	return time.Duration(float64(time.Second) / rate)
}

// Real returns a Clock backed by the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
