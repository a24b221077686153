package model

import "fmt"

// Coord is an integer cell position on the belt grid. X grows to the right and
// Y grows downwards, matching screen order.
type Coord struct {
	X int
	Y int
}

// Add returns the vector sum c + other.
func (c Coord) Add(other Coord) Coord {
	return Coord{X: c.X + other.X, Y: c.Y + other.Y}
}

// Neighbor returns the cell adjacent to c in direction d.
func (c Coord) Neighbor(d Direction) Coord {
	return c.Add(d.Offset())
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Bounds is a half-open rectangle of valid cells starting at the origin.
type Bounds struct {
	Width  int
	Height int
}

// Contains reports whether c lies inside b.
func (b Bounds) Contains(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < b.Width && c.Y < b.Height
}
