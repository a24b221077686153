package httpapi

import (
	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

// Grid is the wire form of a core.GridSnapshot, shared by the JSON endpoint
// and the websocket stream in both its JSON and msgpack framings.
type Grid struct {
	Version  uint64 `json:"version" msgpack:"version"`
	Width    int    `json:"width" msgpack:"width"`
	Height   int    `json:"height" msgpack:"height"`
	Cells    []Cell `json:"cells" msgpack:"cells"`
	InFlight []int  `json:"in_flight" msgpack:"in_flight"`
}

type Cell struct {
	X         int    `json:"x" msgpack:"x"`
	Y         int    `json:"y" msgpack:"y"`
	BeltID    string `json:"belt_id" msgpack:"belt_id"`
	Direction string `json:"direction" msgpack:"direction"`
	Items     []Item `json:"items" msgpack:"items"`
}

type Item struct {
	ID       int     `json:"id" msgpack:"id"`
	Progress float64 `json:"progress" msgpack:"progress"`
}

func newGrid(s core.GridSnapshot, bounds model.Bounds) Grid {
	g := Grid{
		Version:  s.Version,
		Width:    bounds.Width,
		Height:   bounds.Height,
		Cells:    make([]Cell, 0, len(s.Cells)),
		InFlight: make([]int, 0, len(s.InFlight)),
	}
	for _, c := range s.Cells {
		items := make([]Item, 0, len(c.Items))
		for _, p := range c.Items {
			items = append(items, Item{ID: p.Item.ID, Progress: p.Progress})
		}
		g.Cells = append(g.Cells, Cell{
			X:         c.At.X,
			Y:         c.At.Y,
			BeltID:    c.BeltID,
			Direction: c.Direction.String(),
			Items:     items,
		})
	}
	for _, it := range s.InFlight {
		g.InFlight = append(g.InFlight, it.ID)
	}
	return g
}
