package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// dispatch starts an asynchronous delivery of item, which has already left
// from. The item is tracked as in flight until a belt accepts it.
func (r *Registry) dispatch(from *Belt, dir model.Direction, item model.Item) {
	r.addInFlight(item)
	ok := r.goAsync(func(ctx context.Context) {
		if err := r.Deliver(ctx, from, dir, item); err != nil {
			r.log.Warn(ctx, "delivery abandoned",
				logging.Int("item_id", item.ID),
				logging.String("belt_id", from.id),
				logging.Err(err),
			)
		}
	})
	if !ok {
		r.log.Warn(context.Background(), "registry shut down; item left in flight",
			logging.Int("item_id", item.ID),
			logging.String("belt_id", from.id),
		)
	}
}

// Deliver hands item from belt from to the belt adjacent to it in
// direction dir. While the destination cell is empty it waits RetryBackoff
// and looks again, without limit. It only returns an error when ctx ends
// first, in which case the item was not delivered.
//
// from must have been placed. A belt that has since been displaced delivers
// from the cell it occupied.
func (r *Registry) Deliver(ctx context.Context, from *Belt, dir model.Direction, item model.Item) error {
	origin := r.origin(from)
	dest := origin.Neighbor(dir)

	ctx, span := r.tracer.Start(ctx, "belt.handoff", trace.WithAttributes(
		attribute.Int("item.id", item.ID),
		attribute.String("belt.id", from.id),
		attribute.String("from", origin.String()),
		attribute.String("to", dest.String()),
		attribute.String("direction", dir.String()),
	))
	defer span.End()

	start := r.clock.Now()
	log := r.log.With(
		logging.Int("item_id", item.ID),
		logging.String("from", origin.String()),
		logging.String("to", dest.String()),
	)

	for attempt := 1; ; attempt++ {
		if next, ok := r.FindAt(dest); ok {
			next.Accept(item)
			r.removeInFlight(item)
			r.metrics.ObserveHandoff(r.clock.Now().Sub(start))
			span.SetAttributes(attribute.Int("attempts", attempt))
			log.Debug(ctx, "item handed off",
				logging.String("belt_id", next.id),
				logging.Int("attempts", attempt),
			)
			return nil
		}

		r.metrics.IncHandoffRetries()
		if attempt == 1 {
			log.Info(ctx, "no belt at destination; waiting to retry", logging.Duration("backoff", r.params.RetryBackoff))
		} else {
			log.Debug(ctx, "destination still empty", logging.Int("attempt", attempt))
		}

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "delivery cancelled")
			span.RecordError(ctx.Err())
			return fmt.Errorf("deliver item %d to %v: %w", item.ID, dest, ctx.Err())
		case <-r.clock.After(r.params.RetryBackoff):
		}
	}
}

// origin resolves the cell a delivery from b starts at. A belt that was
// never placed cannot have produced an item, so that case is a broken
// invariant and panics.
func (r *Registry) origin(b *Belt) model.Coord {
	if at, ok := r.LocationOf(b); ok {
		return at
	}
	if last := b.at.Load(); last != nil {
		return *last
	}
	panic(fmt.Sprintf("core: belt %s handed off an item but was never placed", b.id))
}

func (r *Registry) addInFlight(item model.Item) {
	next := r.inFlight.Update(func(cur []model.Item) []model.Item {
		out := make([]model.Item, 0, len(cur)+1)
		out = append(out, cur...)
		return append(out, item)
	})
	r.metrics.SetInFlight(len(next))
	r.touch()
}

func (r *Registry) removeInFlight(item model.Item) {
	next, changed := r.inFlight.UpdateIf(func(cur []model.Item) ([]model.Item, bool) {
		for i, it := range cur {
			if it == item {
				out := make([]model.Item, 0, len(cur)-1)
				out = append(out, cur[:i]...)
				return append(out, cur[i+1:]...), true
			}
		}
		return cur, false
	})
	if changed {
		r.metrics.SetInFlight(len(next))
		r.touch()
	}
}
