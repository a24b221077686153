package model

// Item is an immutable unit carried by belts.
type Item struct {
	ID int
}

// ItemProgress pairs an item with how far it has travelled across the cell
// of the belt that currently owns it.
//
// Steps counts the fixed ticks since the item was accepted. Progress is
// derived from Steps so that an item reaches exactly 1.0 after ticksPerCell
// ticks regardless of floating point accumulation.
type ItemProgress struct {
	Item     Item
	Progress float64
	Steps    int
}

// NewItemProgress returns a freshly accepted item at progress 0.
func NewItemProgress(item Item) ItemProgress {
	return ItemProgress{Item: item}
}

// Advance returns p moved forward by one tick.
func (p ItemProgress) Advance(ticksPerCell int) ItemProgress {
	if ticksPerCell <= 0 {
		ticksPerCell = 1
	}
	p.Steps++
	p.Progress = float64(p.Steps) / float64(ticksPerCell)
	return p
}

// Ready reports whether the item has crossed its cell and must be handed off.
func (p ItemProgress) Ready() bool {
	return p.Progress >= 1.0
}
