package model

import (
	"fmt"
	"strings"
)

// Direction is one of the four cardinal directions a belt can face.
type Direction int

const (
	Up Direction = iota
	Right
	Down
	Left
)

var directionNames = [...]string{
	Up:    "UP",
	Right: "RIGHT",
	Down:  "DOWN",
	Left:  "LEFT",
}

var directionOffsets = [...]Coord{
	Up:    {X: 0, Y: -1},
	Right: {X: 1, Y: 0},
	Down:  {X: 0, Y: 1},
	Left:  {X: -1, Y: 0},
}

var directionArrows = [...]rune{
	Up:    '↑',
	Right: '→',
	Down:  '↓',
	Left:  '←',
}

// Directions lists every direction in rotation order.
func Directions() []Direction {
	return []Direction{Up, Right, Down, Left}
}

// Rotate returns the next direction clockwise: UP, RIGHT, DOWN, LEFT, UP.
func (d Direction) Rotate() Direction {
	return (d.normalize() + 1) % 4
}

// Offset returns the unit vector for d.
func (d Direction) Offset() Coord {
	return directionOffsets[d.normalize()]
}

// Arrow returns a single glyph pointing in d.
func (d Direction) Arrow() rune {
	return directionArrows[d.normalize()]
}

func (d Direction) String() string {
	return directionNames[d.normalize()]
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection converts a case-insensitive direction name into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "U", "N", "NORTH":
		return Up, nil
	case "RIGHT", "R", "E", "EAST":
		return Right, nil
	case "DOWN", "D", "S", "SOUTH":
		return Down, nil
	case "LEFT", "L", "W", "WEST":
		return Left, nil
	default:
		return Up, fmt.Errorf("unknown direction %q", s)
	}
}

// normalize folds out-of-range values back into the four valid directions so
// every method stays total.
func (d Direction) normalize() Direction {
	return ((d % 4) + 4) % 4
}
