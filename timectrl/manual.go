package timectrl

import (
	"sync"
	"time"
)

// ManualClock is a Clock whose time only moves when Advance is called.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*manualWaiter
	changed chan struct{}
}

type manualWaiter struct {
	deadline time.Time
	period   time.Duration // zero for one-shot timers
	ch       chan time.Time
	stopped  bool
}

// NewManualClock constructs a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, changed: make(chan struct{})}
}

// Now returns the current manual time.
func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTicker registers a periodic waiter.
func (m *ManualClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timectrl: non-positive ticker interval")
	}
	w := m.register(d, d)
	return &manualTicker{clock: m, w: w}
}

// After registers a one-shot waiter.
func (m *ManualClock) After(d time.Duration) <-chan time.Time {
	return m.register(d, 0).ch
}

// Advance moves time forward by d, firing every ticker and timer whose
// deadline is reached. A ticker that crosses several periods fires once per
// period while its buffer has room and drops the rest.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.stopped {
			continue
		}
		for !w.deadline.After(m.now) {
			select {
			case w.ch <- w.deadline:
			default:
			}
			if w.period == 0 {
				w.stopped = true
				break
			}
			w.deadline = w.deadline.Add(w.period)
		}
		if !w.stopped {
			kept = append(kept, w)
		}
	}
	m.waiters = kept
}

// Waiters returns the number of active tickers and pending timers.
func (m *ManualClock) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// BlockUntil waits until at least n tickers or timers are registered, or
// until timeout elapses on the wall clock. It reports whether n was reached.
func (m *ManualClock) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		m.mu.Lock()
		active := 0
		for _, w := range m.waiters {
			if !w.stopped {
				active++
			}
		}
		changed := m.changed
		m.mu.Unlock()

		if active >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}

func (m *ManualClock) register(d, period time.Duration) *manualWaiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &manualWaiter{
		deadline: m.now.Add(d),
		period:   period,
		ch:       make(chan time.Time, 1),
	}
	m.waiters = append(m.waiters, w)
	close(m.changed)
	m.changed = make(chan struct{})
	return w
}

type manualTicker struct {
	clock *ManualClock
	w     *manualWaiter
}

func (t *manualTicker) C() <-chan time.Time { return t.w.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.w.stopped = true
}
