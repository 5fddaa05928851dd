package traffic

import "github.com/kilianp07/cityfleet/core/model"

// Policy decides whether vehicles of a class exclude each other on a segment.
type Policy interface {
	Name() string
	// Exclusive reports whether at most one vehicle of this policy may hold a
	// direction class of a segment at a time.
	Exclusive() bool
}

// RailPolicy makes same-direction occupants mutually exclusive.
type RailPolicy struct{}

func (RailPolicy) Name() string    { return "rail" }
func (RailPolicy) Exclusive() bool { return true }

// RoadPolicy lets any number of vehicles share a segment.
type RoadPolicy struct{}

func (RoadPolicy) Name() string    { return "road" }
func (RoadPolicy) Exclusive() bool { return false }

// DefaultPolicies maps trams to rail and every road class to road.
func DefaultPolicies() map[model.VehicleClass]Policy {
	return map[model.VehicleClass]Policy{
		model.ClassTram:    RailPolicy{},
		model.ClassBus:     RoadPolicy{},
		model.ClassService: RoadPolicy{},
	}
}
