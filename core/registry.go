package core

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/signalsfoundry/conveyor-simulator/observable"
	"github.com/signalsfoundry/conveyor-simulator/timectrl"
	"go.opentelemetry.io/otel/trace"
)

// Registry is the spatial index of belts and the router for item handoffs.
// It owns the lifecycle of every belt loop and delivery it starts.
type Registry struct {
	params  Params
	clock   timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	// belts is replaced whole on every placement so readers never observe
	// a partially updated mapping.
	belts    *observable.Value[map[model.Coord]*Belt]
	inFlight *observable.Value[[]model.Item]
	changes  *observable.Value[uint64]

	nextItemID atomic.Int64

	// cmdMu serialises the command surface so two PlaceOrRotate calls on
	// the same empty cell cannot both create a belt.
	cmdMu sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	forwards map[*Belt]func()
}

// NewRegistry constructs an empty registry. It panics if the configured
// parameters are invalid since no belt could run with them.
func NewRegistry(opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		params:   DefaultParams(),
		clock:    timectrl.Real(),
		log:      logging.Noop(),
		metrics:  noopMetrics{},
		tracer:   defaultTracer(),
		belts:    observable.New(map[model.Coord]*Belt{}),
		inFlight: observable.New[[]model.Item](nil),
		changes:  observable.New[uint64](0),
		ctx:      ctx,
		cancel:   cancel,
		forwards: make(map[*Belt]func()),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.params.Validate(); err != nil {
		panic(err)
	}
	return r
}

// Params returns the simulation constants in use.
func (r *Registry) Params() Params { return r.params }

// Place puts b at cell at. A belt already occupying the cell is stopped and
// its items, with their progress, move to b. Placing a belt that already
// occupies at is a no-op; placing it at a second cell panics because belts
// never move.
func (r *Registry) Place(b *Belt, at model.Coord) {
	if b == nil || b.registry != r {
		panic("core: belt is not bound to this registry")
	}
	if prev, ok := r.LocationOf(b); ok {
		if prev == at {
			return
		}
		panic(fmt.Sprintf("core: belt %s already placed at %v, cannot move to %v", b.id, prev, at))
	}

	var displaced *Belt
	next := r.belts.Update(func(cur map[model.Coord]*Belt) map[model.Coord]*Belt {
		displaced = cur[at]
		out := make(map[model.Coord]*Belt, len(cur)+1)
		maps.Copy(out, cur)
		out[at] = b
		return out
	})
	b.at.Store(&at)

	r.mu.Lock()
	r.forwards[b] = b.Subscribe(func(BeltState) { r.touch() })
	r.mu.Unlock()

	ctx := context.Background()
	if displaced != nil {
		r.retire(displaced, b)
		r.metrics.IncReplaced()
		r.log.Info(ctx, "belt replaced",
			logging.String("coord", at.String()),
			logging.String("belt_id", b.id),
			logging.String("displaced_id", displaced.id),
		)
	} else {
		r.log.Debug(ctx, "belt placed",
			logging.String("coord", at.String()),
			logging.String("belt_id", b.id),
			logging.String("direction", b.Direction().String()),
		)
	}
	r.metrics.SetBelts(len(next))
	r.touch()
}

// retire stops a displaced belt and hands its items to the replacement.
func (r *Registry) retire(old, replacement *Belt) {
	old.successor.Store(replacement)
	old.stop()

	r.mu.Lock()
	if unsub, ok := r.forwards[old]; ok {
		unsub()
		delete(r.forwards, old)
	}
	r.mu.Unlock()

	replacement.adopt(old.drain())
}

// FindAt returns the belt at cell at, if any.
func (r *Registry) FindAt(at model.Coord) (*Belt, bool) {
	b, ok := r.belts.Load()[at]
	return b, ok
}

// LocationOf returns the cell b currently occupies. It reports false for a
// belt that was never placed or has been displaced.
func (r *Registry) LocationOf(b *Belt) (model.Coord, bool) {
	for at, placed := range r.belts.Load() {
		if placed == b {
			return at, true
		}
	}
	return model.Coord{}, false
}

// Belts returns a copy of the current cell to belt mapping.
func (r *Registry) Belts() map[model.Coord]*Belt {
	return maps.Clone(r.belts.Load())
}

// Len returns the number of placed belts.
func (r *Registry) Len() int {
	return len(r.belts.Load())
}

// SubscribeBelts calls fn with a copy of the mapping after every placement.
func (r *Registry) SubscribeBelts(fn func(map[model.Coord]*Belt)) (unsubscribe func()) {
	return r.belts.Subscribe(func(m map[model.Coord]*Belt) { fn(maps.Clone(m)) })
}

// Watch calls fn after any change visible in a Snapshot: placements, belt
// rotations, item movement and in-flight changes. The argument is the new
// change version. Callbacks run on the goroutine that made the change and
// must not block.
func (r *Registry) Watch(fn func(version uint64)) (unsubscribe func()) {
	return r.changes.Subscribe(fn)
}

// InFlight returns the items that left their belt and are waiting for a
// destination belt.
func (r *Registry) InFlight() []model.Item {
	return append([]model.Item(nil), r.inFlight.Load()...)
}

// Shutdown stops every belt loop and pending delivery, then waits for them
// to exit or for ctx to expire. Items still in flight are abandoned.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("registry shutdown: %w", ctx.Err())
	}

	if n := len(r.inFlight.Load()); n > 0 {
		r.log.Warn(ctx, "registry shut down with items in flight", logging.Int("in_flight", n))
	}
	return nil
}

// goAsync runs fn on a new goroutine tracked by the registry lifecycle. It
// reports false once the registry has been shut down.
func (r *Registry) goAsync(fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
	return true
}

func (r *Registry) touch() {
	r.changes.Update(func(v uint64) uint64 { return v + 1 })
}
