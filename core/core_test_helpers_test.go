package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/stretchr/testify/require"
)

// fastParams keeps the reference ratios while shrinking wall-clock time so
// loop tests finish quickly: one cell per 10ms, 20ms retry backoff.
func fastParams() Params {
	return Params{
		TickInterval:     time.Millisecond,
		TicksPerCell:     10,
		RetryBackoff:     20 * time.Millisecond,
		DefaultDirection: model.Up,
	}
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := NewRegistry(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, r.Shutdown(ctx))
	})
	return r
}

// placeIdle places a belt whose loop is not running so tests can drive it
// with Step.
func placeIdle(r *Registry, at model.Coord, d model.Direction) *Belt {
	b := r.NewBelt(d)
	r.Place(b, at)
	return b
}

func itemIDs(items []model.ItemProgress) []int {
	out := make([]int, 0, len(items))
	for _, p := range items {
		out = append(out, p.Item.ID)
	}
	return out
}

// countingMetrics records engine metrics by name for assertions.
type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingMetrics) add(name string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name] += delta
}

func (c *countingMetrics) set(name string, v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name] = v
}

func (c *countingMetrics) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func (c *countingMetrics) SetBelts(n int)               { c.set("belts", n) }
func (c *countingMetrics) IncRotations()                { c.add("rotations", 1) }
func (c *countingMetrics) IncReplaced()                 { c.add("replaced", 1) }
func (c *countingMetrics) IncSpawned()                  { c.add("spawned", 1) }
func (c *countingMetrics) IncTicks()                    { c.add("ticks", 1) }
func (c *countingMetrics) IncHandoffRetries()           { c.add("retries", 1) }
func (c *countingMetrics) ObserveHandoff(time.Duration) { c.add("handoffs", 1) }
func (c *countingMetrics) SetInFlight(n int)            { c.set("in_flight", n) }
