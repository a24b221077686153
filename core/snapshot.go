package core

import (
	"cmp"
	"slices"

	"github.com/signalsfoundry/conveyor-simulator/model"
)

// CellState is one occupied cell in a GridSnapshot.
type CellState struct {
	At        model.Coord
	BeltID    string
	Direction model.Direction
	Items     []model.ItemProgress
}

// GridSnapshot is a read-only picture of the registry. Each cell is
// internally consistent; different cells may be read a tick apart.
type GridSnapshot struct {
	Version  uint64
	Cells    []CellState
	InFlight []model.Item
}

// Snapshot captures every placed belt, sorted by row then column, and the
// items currently in flight.
func (r *Registry) Snapshot() GridSnapshot {
	version := r.changes.Load()
	belts := r.belts.Load()

	cells := make([]CellState, 0, len(belts))
	for at, b := range belts {
		st := b.State()
		cells = append(cells, CellState{
			At:        at,
			BeltID:    st.ID,
			Direction: st.Direction,
			Items:     st.Items,
		})
	}
	slices.SortFunc(cells, func(a, b CellState) int {
		if c := cmp.Compare(a.At.Y, b.At.Y); c != 0 {
			return c
		}
		return cmp.Compare(a.At.X, b.At.X)
	})

	return GridSnapshot{
		Version:  version,
		Cells:    cells,
		InFlight: r.InFlight(),
	}
}

// Cell returns the state of the cell at at.
func (s GridSnapshot) Cell(at model.Coord) (CellState, bool) {
	for _, c := range s.Cells {
		if c.At == at {
			return c, true
		}
	}
	return CellState{}, false
}

// Locate returns every cell holding an item with the given ID.
func (s GridSnapshot) Locate(itemID int) []model.Coord {
	var out []model.Coord
	for _, c := range s.Cells {
		for _, p := range c.Items {
			if p.Item.ID == itemID {
				out = append(out, c.At)
				break
			}
		}
	}
	return out
}

// IsInFlight reports whether an item with the given ID is between belts.
func (s GridSnapshot) IsInFlight(itemID int) bool {
	for _, it := range s.InFlight {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

// ItemCount returns the number of items on belts plus those in flight.
func (s GridSnapshot) ItemCount() int {
	n := len(s.InFlight)
	for _, c := range s.Cells {
		n += len(c.Items)
	}
	return n
}
