package core

import (
	"context"

	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

// PlaceOrRotate rotates the belt at at one step clockwise, or, when the cell
// is empty, creates a belt facing Params.DefaultDirection, places it and
// starts its loop. It returns the belt and whether it was created.
func (r *Registry) PlaceOrRotate(at model.Coord) (*Belt, bool) {
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	ctx := context.Background()
	if b, ok := r.FindAt(at); ok {
		d := b.Rotate()
		r.log.Info(ctx, "belt rotated",
			logging.String("coord", at.String()),
			logging.String("direction", d.String()),
		)
		return b, false
	}

	b := r.NewBelt(r.params.DefaultDirection)
	r.Place(b, at)
	b.Start()
	r.log.Info(ctx, "belt created",
		logging.String("coord", at.String()),
		logging.String("belt_id", b.id),
		logging.String("direction", b.Direction().String()),
	)
	return b, true
}

// PlaceBelt creates a running belt facing d at at, replacing any belt
// already there. It reports whether a belt was replaced.
func (r *Registry) PlaceBelt(at model.Coord, d model.Direction) (*Belt, bool) {
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	_, replaced := r.FindAt(at)
	b := r.NewBelt(d)
	r.Place(b, at)
	b.Start()
	return b, replaced
}

// SpawnItem puts a new item with a fresh ID on the belt at at. It is a
// no-op reporting false when the cell is empty.
func (r *Registry) SpawnItem(at model.Coord) (model.Item, bool) {
	b, ok := r.FindAt(at)
	if !ok {
		return model.Item{}, false
	}
	item := model.Item{ID: int(r.nextItemID.Add(1))}
	b.Accept(item)
	r.metrics.IncSpawned()
	r.log.Debug(context.Background(), "item spawned",
		logging.String("coord", at.String()),
		logging.Int("item_id", item.ID),
	)
	return item, true
}

// AcceptItem puts item on the belt at at. It reports false when the cell is
// empty. Items with explicit IDs share the ID space with SpawnItem; callers
// mixing both should keep explicit IDs out of the spawned range.
func (r *Registry) AcceptItem(at model.Coord, item model.Item) bool {
	b, ok := r.FindAt(at)
	if !ok {
		return false
	}
	b.Accept(item)
	return true
}
