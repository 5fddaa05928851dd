package traffic

import (
	"fmt"

	"github.com/kilianp07/cityfleet/core/model"
)

// Direction is the class of a heading relative to a segment axis.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Segment is a grid cell traversed along one canonical axis.
type Segment struct {
	Cell model.Cell
	Axis model.Heading
}

func (s Segment) String() string {
	axis := "x"
	if s.Axis == model.North {
		axis = "y"
	}
	return fmt.Sprintf("%s/%s", s.Cell, axis)
}

// Classify returns the segment a vehicle at cell moving along heading
// occupies and its direction class: the sign of heading . axis.
func Classify(cell model.Cell, heading model.Heading) (Segment, Direction, error) {
	if heading.IsZero() {
		return Segment{}, 0, ErrNoHeading
	}
	axis := heading.Axis()
	seg := Segment{Cell: cell, Axis: axis}
	if heading.Dot(axis) < 0 {
		return seg, Backward, nil
	}
	return seg, Forward, nil
}
