package model

import "fmt"

// Role tags what an actor does in the fleet.
type Role int

const (
	RoleStation Role = iota + 1
	RoleVehicle
	RoleCrew
)

func (r Role) String() string {
	switch r {
	case RoleStation:
		return "station"
	case RoleVehicle:
		return "vehicle"
	case RoleCrew:
		return "crew"
	default:
		return "unknown"
	}
}

// ParseRole converts a textual role to Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "station":
		return RoleStation, nil
	case "vehicle":
		return RoleVehicle, nil
	case "crew":
		return RoleCrew, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// VehicleClass selects the traffic policy applied to a moving actor.
type VehicleClass int

const (
	// ClassNone is used by actors that never occupy track segments.
	ClassNone VehicleClass = iota
	// ClassBus is a road vehicle; buses may overtake each other.
	ClassBus
	// ClassTram is a rail vehicle subject to direction exclusion.
	ClassTram
	// ClassService is the road vehicle used by maintenance crews.
	ClassService
)

func (c VehicleClass) String() string {
	switch c {
	case ClassBus:
		return "bus"
	case ClassTram:
		return "tram"
	case ClassService:
		return "service"
	default:
		return "none"
	}
}

// ParseVehicleClass converts a textual class to VehicleClass.
func ParseVehicleClass(s string) (VehicleClass, error) {
	switch s {
	case "bus":
		return ClassBus, nil
	case "tram":
		return ClassTram, nil
	case "service":
		return ClassService, nil
	case "", "none":
		return ClassNone, nil
	}
	return ClassNone, fmt.Errorf("unknown vehicle class %q", s)
}

// IsRail reports whether the class runs on rails.
func (c VehicleClass) IsRail() bool { return c == ClassTram }

// Base returns the base kind the class parks at.
func (c VehicleClass) Base() BaseKind {
	switch c {
	case ClassTram:
		return BaseTram
	case ClassService:
		return BaseMaintenance
	default:
		return BaseBus
	}
}
