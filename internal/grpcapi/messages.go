package grpcapi

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request and response messages are google.protobuf.Struct values with the
// field names below.
const (
	fieldX         = "x"
	fieldY         = "y"
	fieldDirection = "direction"
	fieldBeltID    = "belt_id"
	fieldCreated   = "created"
	fieldReplaced  = "replaced"
	fieldSpawned   = "spawned"
	fieldItemID    = "item_id"
)

func coordFrom(req *structpb.Struct, bounds model.Bounds) (model.Coord, error) {
	x, err := intField(req, fieldX)
	if err != nil {
		return model.Coord{}, err
	}
	y, err := intField(req, fieldY)
	if err != nil {
		return model.Coord{}, err
	}
	at := model.Coord{X: x, Y: y}
	if !bounds.Contains(at) {
		return at, fmt.Errorf("%w: %v not within %dx%d", ErrOutOfBounds, at, bounds.Width, bounds.Height)
	}
	return at, nil
}

func intField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidArgument, name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidArgument, name)
	}
	if n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q must be an integer, got %v", ErrInvalidArgument, name, n.NumberValue)
	}
	return int(n.NumberValue), nil
}

func directionFrom(req *structpb.Struct) (model.Direction, error) {
	v, ok := req.GetFields()[fieldDirection]
	if !ok {
		return model.Up, fmt.Errorf("%w: missing %q", ErrInvalidArgument, fieldDirection)
	}
	d, err := model.ParseDirection(v.GetStringValue())
	if err != nil {
		return model.Up, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return d, nil
}

// snapshotStruct renders a GridSnapshot as
//
//	{version, cells: [{x, y, belt_id, direction, items: [{id, progress}]}], in_flight: [id]}
func snapshotStruct(s core.GridSnapshot) (*structpb.Struct, error) {
	cells := make([]any, 0, len(s.Cells))
	for _, c := range s.Cells {
		items := make([]any, 0, len(c.Items))
		for _, p := range c.Items {
			items = append(items, map[string]any{
				"id":       p.Item.ID,
				"progress": p.Progress,
			})
		}
		cells = append(cells, map[string]any{
			fieldX:         c.At.X,
			fieldY:         c.At.Y,
			fieldBeltID:    c.BeltID,
			fieldDirection: c.Direction.String(),
			"items":        items,
		})
	}
	inFlight := make([]any, 0, len(s.InFlight))
	for _, it := range s.InFlight {
		inFlight = append(inFlight, it.ID)
	}
	return structpb.NewStruct(map[string]any{
		"version":   s.Version,
		"cells":     cells,
		"in_flight": inFlight,
	})
}
