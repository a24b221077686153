package core

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/signalsfoundry/conveyor-simulator/observable"
)

// Belt is an autonomous conveyor cell. It owns the items currently crossing
// it, advances them once per tick and hands finished items to the Registry
// for delivery in its facing direction.
type Belt struct {
	id       string
	registry *Registry

	direction *observable.Value[model.Direction]
	items     *observable.Value[[]model.ItemProgress]

	// at is the cell the belt was placed at. It survives displacement so
	// deliveries already in flight keep routing from the same cell.
	at atomic.Pointer[model.Coord]
	// successor receives items accepted after this belt was displaced.
	successor atomic.Pointer[Belt]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// BeltState is a consistent read-only view of one belt.
type BeltState struct {
	ID        string
	Direction model.Direction
	Items     []model.ItemProgress
}

// NewBelt creates an unplaced belt facing d, bound to r.
func (r *Registry) NewBelt(d model.Direction) *Belt {
	return &Belt{
		id:        uuid.NewString(),
		registry:  r,
		direction: observable.New(d),
		items:     observable.New[[]model.ItemProgress](nil),
	}
}

// ID returns the belt's opaque identifier.
func (b *Belt) ID() string { return b.id }

// Direction returns the belt's current facing.
func (b *Belt) Direction() model.Direction { return b.direction.Load() }

// SetDirection replaces the belt's facing. The next item to become ready is
// delivered in the new direction.
func (b *Belt) SetDirection(d model.Direction) {
	b.direction.Store(d)
}

// Rotate turns the belt one step clockwise and returns the new facing.
func (b *Belt) Rotate() model.Direction {
	d := b.direction.Update(func(cur model.Direction) model.Direction { return cur.Rotate() })
	b.registry.metrics.IncRotations()
	return d
}

// Items returns a snapshot of the items on the belt in arrival order.
func (b *Belt) Items() []model.ItemProgress {
	return slices.Clone(b.items.Load())
}

// State returns the belt's identity, direction and items.
func (b *Belt) State() BeltState {
	return BeltState{ID: b.id, Direction: b.Direction(), Items: b.Items()}
}

// Subscribe calls fn after every change to the belt's direction or items.
func (b *Belt) Subscribe(fn func(BeltState)) (unsubscribe func()) {
	unsubDir := b.direction.Subscribe(func(model.Direction) { fn(b.State()) })
	unsubItems := b.items.Subscribe(func([]model.ItemProgress) { fn(b.State()) })
	return func() {
		unsubDir()
		unsubItems()
	}
}

// Accept puts item on the belt at progress 0. It is safe to call from any
// goroutine and never fails. Items accepted by a displaced belt move on to
// the belt that replaced it.
func (b *Belt) Accept(item model.Item) {
	b.adopt([]model.ItemProgress{model.NewItemProgress(item)})
}

// adopt appends items, keeping their progress.
func (b *Belt) adopt(items []model.ItemProgress) {
	if len(items) == 0 {
		return
	}
	if next := b.successor.Load(); next != nil {
		next.adopt(items)
		return
	}
	b.items.Update(func(cur []model.ItemProgress) []model.ItemProgress {
		out := make([]model.ItemProgress, 0, len(cur)+len(items))
		out = append(out, cur...)
		return append(out, items...)
	})
	// Displaced between the check and the append: hand everything over.
	if next := b.successor.Load(); next != nil {
		next.adopt(b.drain())
	}
}

// drain empties the belt and returns what it held.
func (b *Belt) drain() []model.ItemProgress {
	var taken []model.ItemProgress
	b.items.UpdateIf(func(cur []model.ItemProgress) ([]model.ItemProgress, bool) {
		taken = cur
		return nil, len(cur) > 0
	})
	return taken
}

// Step runs one tick: every item advances by 1/TicksPerCell, items reaching
// 1.0 leave the belt and are dispatched for delivery in the direction the
// belt faces now. It returns the dispatched items. Step is driven by the
// belt's own loop once started and may be called directly when the loop is
// not running.
func (b *Belt) Step() []model.Item {
	perCell := b.registry.params.TicksPerCell

	var ready []model.ItemProgress
	b.items.UpdateIf(func(cur []model.ItemProgress) ([]model.ItemProgress, bool) {
		ready = ready[:0]
		if len(cur) == 0 {
			return cur, false
		}
		moving := make([]model.ItemProgress, 0, len(cur))
		for _, p := range cur {
			p = p.Advance(perCell)
			if p.Ready() {
				ready = append(ready, p)
				continue
			}
			moving = append(moving, p)
		}
		return moving, true
	})
	b.registry.metrics.IncTicks()

	if len(ready) == 0 {
		return nil
	}
	dir := b.Direction()
	out := make([]model.Item, 0, len(ready))
	for _, p := range ready {
		b.registry.dispatch(b, dir, p.Item)
		out = append(out, p.Item)
	}
	return out
}

// Start launches the belt's tick loop under the registry's lifecycle.
// Calling Start again is a no-op.
func (b *Belt) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	r := b.registry
	ok := r.goAsync(func(parent context.Context) {
		ctx, cancel := context.WithCancel(parent)
		b.mu.Lock()
		b.cancel = cancel
		b.mu.Unlock()
		defer cancel()
		b.run(ctx)
	})
	if !ok {
		r.log.Warn(context.Background(), "registry shut down; belt not started", logging.String("belt_id", b.id))
	}
}

// Running reports whether Start has been called and the belt has not been stopped.
func (b *Belt) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && b.successor.Load() == nil
}

// stop cancels the tick loop without waiting for it, so it is safe to call
// from any goroutine including subscriber callbacks. A loop that has not
// picked up its context yet exits on its successor check instead.
func (b *Belt) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Belt) run(ctx context.Context) {
	if b.successor.Load() != nil {
		return
	}
	ticker := b.registry.clock.NewTicker(b.registry.params.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if b.successor.Load() != nil {
				return
			}
			b.Step()
		}
	}
}
