package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/signalsfoundry/conveyor-simulator/timectrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceFindAndLocate(t *testing.T) {
	r := newTestRegistry(t)
	b := r.NewBelt(model.Left)

	_, ok := r.LocationOf(b)
	assert.False(t, ok, "unplaced belt must not have a location")

	at := model.Coord{X: 3, Y: 4}
	r.Place(b, at)

	got, ok := r.FindAt(at)
	require.True(t, ok)
	assert.Same(t, b, got)

	loc, ok := r.LocationOf(b)
	require.True(t, ok)
	assert.Equal(t, at, loc)

	_, ok = r.FindAt(model.Coord{X: 4, Y: 4})
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestPlaceSameCellTwiceIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	b := placeIdle(r, model.Coord{}, model.Up)
	r.Place(b, model.Coord{})
	assert.Equal(t, 1, r.Len())
}

func TestPlacingABeltAtASecondCellPanics(t *testing.T) {
	r := newTestRegistry(t)
	b := placeIdle(r, model.Coord{}, model.Up)
	assert.Panics(t, func() { r.Place(b, model.Coord{X: 1}) })
}

func TestPlacingAForeignBeltPanics(t *testing.T) {
	r := newTestRegistry(t)
	other := newTestRegistry(t)
	assert.Panics(t, func() { r.Place(other.NewBelt(model.Up), model.Coord{}) })
}

func TestBeltsReturnsACopy(t *testing.T) {
	r := newTestRegistry(t)
	placeIdle(r, model.Coord{}, model.Up)

	m := r.Belts()
	delete(m, model.Coord{})

	assert.Equal(t, 1, r.Len())
}

func TestSubscribeBeltsSeesPlacements(t *testing.T) {
	r := newTestRegistry(t)
	var sizes []int
	unsubscribe := r.SubscribeBelts(func(m map[model.Coord]*Belt) {
		sizes = append(sizes, len(m))
		delete(m, model.Coord{})
	})

	placeIdle(r, model.Coord{}, model.Up)
	placeIdle(r, model.Coord{X: 1}, model.Up)
	unsubscribe()
	placeIdle(r, model.Coord{X: 2}, model.Up)

	assert.Equal(t, []int{1, 2}, sizes)
	assert.Equal(t, 3, r.Len())
}

func TestPlaceOrRotateCyclesThroughFourDirections(t *testing.T) {
	r := newTestRegistry(t)
	at := model.Coord{X: 5, Y: 5}

	b, created := r.PlaceOrRotate(at)
	require.True(t, created)
	assert.Equal(t, model.Up, b.Direction())
	assert.True(t, b.Running())

	want := []model.Direction{model.Right, model.Down, model.Left, model.Up}
	for i, d := range want {
		again, created := r.PlaceOrRotate(at)
		require.False(t, created, "call %d created a belt", i+2)
		require.Same(t, b, again)
		assert.Equal(t, d, again.Direction())
	}
}

func TestPlaceOrRotateConcurrentCallsCreateOneBelt(t *testing.T) {
	r := newTestRegistry(t)
	at := model.Coord{X: 1, Y: 1}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.PlaceOrRotate(at); ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	b, _ := r.FindAt(at)
	// One creation then seven rotations from UP.
	assert.Equal(t, model.Left, b.Direction())
}

func TestSpawnItem(t *testing.T) {
	metrics := &countingMetrics{}
	r := newTestRegistry(t, WithMetricsRecorder(metrics))

	_, ok := r.SpawnItem(model.Coord{})
	assert.False(t, ok, "spawn on an empty cell must be a no-op")

	b := placeIdle(r, model.Coord{}, model.Up)
	first, ok := r.SpawnItem(model.Coord{})
	require.True(t, ok)
	second, ok := r.SpawnItem(model.Coord{})
	require.True(t, ok)

	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 2, second.ID)
	assert.Equal(t, []int{1, 2}, itemIDs(b.Items()))
	assert.Equal(t, 2, metrics.get("spawned"))
}

func TestAcceptItem(t *testing.T) {
	r := newTestRegistry(t)
	assert.False(t, r.AcceptItem(model.Coord{}, model.Item{ID: 5}))
	b := placeIdle(r, model.Coord{}, model.Up)
	assert.True(t, r.AcceptItem(model.Coord{}, model.Item{ID: 5}))
	assert.Equal(t, []int{5}, itemIDs(b.Items()))
}

func TestHandoffDeliversToNeighbour(t *testing.T) {
	r := newTestRegistry(t, WithParams(fastParams()))
	a := placeIdle(r, model.Coord{X: 0, Y: 0}, model.Right)
	b := placeIdle(r, model.Coord{X: 1, Y: 0}, model.Down)

	for id := 1; id <= 3; id++ {
		a.Accept(model.Item{ID: id})
		for range fastParams().TicksPerCell {
			a.Step()
		}
	}

	require.Eventually(t, func() bool {
		return len(b.Items()) == 3
	}, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []int{1, 2, 3}, itemIDs(b.Items()))
	assert.Empty(t, a.Items())
	assert.Empty(t, r.InFlight())
}

func TestHandoffBlocksUntilDestinationPlaced(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	metrics := &countingMetrics{}
	r := newTestRegistry(t, WithClock(clock), WithMetricsRecorder(metrics))
	a := placeIdle(r, model.Coord{X: 0, Y: 0}, model.Down)

	a.Accept(model.Item{ID: 7})
	for range DefaultTicksPerCell {
		a.Step()
	}

	// The delivery goroutine found an empty cell and now waits on the clock.
	require.True(t, clock.BlockUntil(1, time.Second))

	snap := r.Snapshot()
	assert.Empty(t, snap.Locate(7), "in-flight item must not be on any belt")
	assert.True(t, snap.IsInFlight(7))
	assert.Equal(t, 1, metrics.get("in_flight"))

	dest := placeIdle(r, model.Coord{X: 0, Y: 1}, model.Right)
	clock.Advance(DefaultRetryBackoff)

	require.Eventually(t, func() bool {
		return len(dest.Items()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 7, dest.Items()[0].Item.ID)
	assert.Empty(t, r.InFlight())
	assert.GreaterOrEqual(t, metrics.get("retries"), 1)
	assert.Equal(t, 1, metrics.get("handoffs"))
}

func TestHandoffKeepsRetrying(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	metrics := &countingMetrics{}
	r := newTestRegistry(t, WithClock(clock), WithMetricsRecorder(metrics))
	a := placeIdle(r, model.Coord{}, model.Left)

	a.Accept(model.Item{ID: 1})
	for range DefaultTicksPerCell {
		a.Step()
	}

	for attempt := 1; attempt <= 5; attempt++ {
		require.True(t, clock.BlockUntil(1, time.Second))
		require.Eventually(t, func() bool { return metrics.get("retries") == attempt }, time.Second, time.Millisecond)
		clock.Advance(DefaultRetryBackoff)
	}
	assert.Equal(t, []model.Item{{ID: 1}}, r.InFlight())
}

func TestDeliverReturnsWhenContextEnds(t *testing.T) {
	r := newTestRegistry(t, WithParams(fastParams()))
	a := placeIdle(r, model.Coord{}, model.Up)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Deliver(ctx, a, model.Up, model.Item{ID: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeliverFromUnplacedBeltPanics(t *testing.T) {
	r := newTestRegistry(t)
	b := r.NewBelt(model.Up)
	assert.Panics(t, func() {
		_ = r.Deliver(context.Background(), b, model.Up, model.Item{ID: 1})
	})
}

func TestReplacingABeltStopsItAndKeepsItsItems(t *testing.T) {
	metrics := &countingMetrics{}
	r := newTestRegistry(t, WithParams(fastParams()), WithMetricsRecorder(metrics))
	at := model.Coord{X: 2, Y: 2}
	old := placeIdle(r, at, model.Right)
	old.Accept(model.Item{ID: 1})
	old.Step()
	old.Step()

	replacement := r.NewBelt(model.Left)
	r.Place(replacement, at)

	got, _ := r.FindAt(at)
	assert.Same(t, replacement, got)
	_, ok := r.LocationOf(old)
	assert.False(t, ok, "displaced belt is no longer addressable")
	assert.False(t, old.Running())
	assert.Empty(t, old.Items())

	items := replacement.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Item.ID)
	assert.Equal(t, 2, items[0].Steps, "progress survives replacement")

	// Late arrivals at the displaced belt follow it to the replacement.
	old.Accept(model.Item{ID: 2})
	assert.Equal(t, []int{1, 2}, itemIDs(replacement.Items()))
	assert.Equal(t, 1, metrics.get("replaced"))
	assert.Equal(t, 1, metrics.get("belts"))
}

func TestDisplacedBeltDeliveriesRouteFromItsCell(t *testing.T) {
	r := newTestRegistry(t, WithParams(fastParams()))
	at := model.Coord{X: 0, Y: 0}
	old := placeIdle(r, at, model.Right)
	dest := placeIdle(r, model.Coord{X: 1, Y: 0}, model.Up)

	r.Place(r.NewBelt(model.Up), at)
	require.NoError(t, r.Deliver(context.Background(), old, model.Right, model.Item{ID: 4}))

	assert.Equal(t, []int{4}, itemIDs(dest.Items()))
}

func TestPlaceBeltReportsReplacement(t *testing.T) {
	r := newTestRegistry(t, WithParams(fastParams()))
	first, replaced := r.PlaceBelt(model.Coord{}, model.Down)
	assert.False(t, replaced)
	assert.True(t, first.Running())

	second, replaced := r.PlaceBelt(model.Coord{}, model.Left)
	assert.True(t, replaced)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.False(t, first.Running())
	assert.Equal(t, model.Left, second.Direction())
}

func TestShutdownStopsBeltLoops(t *testing.T) {
	metrics := &countingMetrics{}
	r := NewRegistry(WithParams(fastParams()), WithMetricsRecorder(metrics))
	r.PlaceOrRotate(model.Coord{})
	require.Eventually(t, func() bool { return metrics.get("ticks") > 5 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	ticks := metrics.get("ticks")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ticks, metrics.get("ticks"))

	b, created := r.PlaceOrRotate(model.Coord{X: 1})
	require.True(t, created)
	assert.True(t, b.Running(), "Start after shutdown is recorded but never ticks")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ticks, metrics.get("ticks"))
}

func TestInvalidParamsPanic(t *testing.T) {
	assert.Panics(t, func() { NewRegistry(WithParams(Params{})) })
	assert.Error(t, Params{TicksPerCell: 1}.Validate())
	assert.NoError(t, DefaultParams().Validate())
}
