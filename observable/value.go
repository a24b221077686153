// Package observable provides published state containers that can be read
// without locks and watched for changes.
package observable

import (
	"sync"
	"sync/atomic"
)

// Value holds a value of type T that is only ever replaced whole. Readers
// see either the previous or the next value, never a partial update.
//
// Values stored in a Value must be treated as immutable by every caller:
// updates build a new T instead of mutating the current one.
type Value[T any] struct {
	cur atomic.Pointer[versioned[T]]

	mu     sync.Mutex
	subs   map[uint64]func(T)
	nextID uint64
}

type versioned[T any] struct {
	version uint64
	value   T
}

// New constructs a Value holding initial.
func New[T any](initial T) *Value[T] {
	v := &Value[T]{}
	v.cur.Store(&versioned[T]{value: initial})
	return v
}

// Load returns the current value.
func (v *Value[T]) Load() T {
	cur := v.cur.Load()
	if cur == nil {
		var zero T
		return zero
	}
	return cur.value
}

// Version returns a counter that grows by one with every successful write.
func (v *Value[T]) Version() uint64 {
	cur := v.cur.Load()
	if cur == nil {
		return 0
	}
	return cur.version
}

// Store replaces the current value and notifies subscribers.
func (v *Value[T]) Store(next T) {
	v.Update(func(T) T { return next })
}

// Update atomically replaces the current value with fn(current) using a
// compare-and-swap loop. fn may run more than once under contention and must
// not have side effects beyond computing the next value. The value that won
// the swap is returned and delivered to subscribers.
func (v *Value[T]) Update(fn func(T) T) T {
	for {
		old := v.cur.Load()
		var (
			base    T
			version uint64
		)
		if old != nil {
			base = old.value
			version = old.version
		}
		next := &versioned[T]{version: version + 1, value: fn(base)}
		if v.cur.CompareAndSwap(old, next) {
			v.notify(next.value)
			return next.value
		}
	}
}

// UpdateIf is Update for writers that may decide no change is needed. When
// fn reports false nothing is written and subscribers are not notified. It
// returns the resulting value and whether a write happened.
func (v *Value[T]) UpdateIf(fn func(T) (T, bool)) (T, bool) {
	for {
		old := v.cur.Load()
		var (
			base    T
			version uint64
		)
		if old != nil {
			base = old.value
			version = old.version
		}
		value, changed := fn(base)
		if !changed {
			return base, false
		}
		next := &versioned[T]{version: version + 1, value: value}
		if v.cur.CompareAndSwap(old, next) {
			v.notify(next.value)
			return next.value, true
		}
	}
}

// Subscribe registers fn to be called after every write. Callbacks run on
// the writer's goroutine, outside any lock held by Value, and concurrent
// writers may deliver values out of order. It returns an unsubscribe
// function that is safe to call more than once.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.subs == nil {
		v.subs = make(map[uint64]func(T))
	}
	id := v.nextID
	v.nextID++
	v.subs[id] = fn

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}

func (v *Value[T]) notify(value T) {
	v.mu.Lock()
	if len(v.subs) == 0 {
		v.mu.Unlock()
		return
	}
	subs := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, fn := range subs {
		fn(value)
	}
}
