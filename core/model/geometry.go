package model

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
)

// Cell is a grid coordinate.
type Cell struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// C is a short constructor for Cell.
func C(x, y int) Cell { return Cell{X: x, Y: y} }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Vec returns the cell centre as a vector.
func (c Cell) Vec() r2.Vec { return r2.Vec{X: float64(c.X), Y: float64(c.Y)} }

// Manhattan returns the grid distance between two cells.
func (c Cell) Manhattan(o Cell) int { return abs(c.X-o.X) + abs(c.Y-o.Y) }

// Distance returns the euclidean distance between two cells.
func (c Cell) Distance(o Cell) float64 { return r2.Norm(r2.Sub(o.Vec(), c.Vec())) }

// Step returns the neighbouring cell one move closer to target and the
// heading of that move. Horizontal moves are taken first. When c equals
// target the zero heading is returned.
func (c Cell) Step(target Cell) (Cell, Heading) {
	switch {
	case target.X > c.X:
		return Cell{c.X + 1, c.Y}, East
	case target.X < c.X:
		return Cell{c.X - 1, c.Y}, West
	case target.Y > c.Y:
		return Cell{c.X, c.Y + 1}, North
	case target.Y < c.Y:
		return Cell{c.X, c.Y - 1}, South
	}
	return c, Heading{}
}

// Move is one grid step.
type Move struct {
	To      Cell
	Heading Heading
}

// Detours returns the alternatives to c.Step(target): the step along the
// other axis when it also closes the distance, otherwise the two sidesteps
// perpendicular to the greedy move.
func (c Cell) Detours(target Cell) []Move {
	_, h := c.Step(target)
	switch {
	case h.IsZero():
		return nil
	case h.Y == 0 && target.Y > c.Y:
		return []Move{{Cell{c.X, c.Y + 1}, North}}
	case h.Y == 0 && target.Y < c.Y:
		return []Move{{Cell{c.X, c.Y - 1}, South}}
	case h.Y == 0:
		return []Move{{Cell{c.X, c.Y + 1}, North}, {Cell{c.X, c.Y - 1}, South}}
	}
	return []Move{{Cell{c.X + 1, c.Y}, East}, {Cell{c.X - 1, c.Y}, West}}
}

// Within reports whether o lies within radius (manhattan) of c.
func (c Cell) Within(o Cell, radius int) bool { return c.Manhattan(o) <= radius }

// Heading is a movement direction vector.
type Heading r2.Vec

var (
	East  = Heading{X: 1}
	West  = Heading{X: -1}
	North = Heading{Y: 1}
	South = Heading{Y: -1}
)

// H builds a heading from components.
func H(x, y float64) Heading { return Heading{X: x, Y: y} }

// IsZero reports whether the heading carries no direction.
func (h Heading) IsZero() bool { return h.X == 0 && h.Y == 0 }

// Vec returns the heading as a gonum vector.
func (h Heading) Vec() r2.Vec { return r2.Vec(h) }

// Dot returns the dot product of two headings.
func (h Heading) Dot(o Heading) float64 { return r2.Dot(h.Vec(), o.Vec()) }

// Axis returns the canonical positive axis closest to the heading: the x axis
// when the horizontal component dominates, the y axis otherwise.
func (h Heading) Axis() Heading {
	if abs64(h.X) >= abs64(h.Y) {
		return East
	}
	return North
}

func (h Heading) String() string { return fmt.Sprintf("<%g,%g>", h.X, h.Y) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func abs64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
