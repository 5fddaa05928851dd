package model

import "fmt"

// FuelState is the deployment axis of an actor.
type FuelState int

const (
	Active FuelState = iota
	AtBase
)

func (s FuelState) String() string {
	if s == AtBase {
		return "AT_BASE"
	}
	return "ACTIVE"
}

// HealthState is the breakdown axis of an actor, orthogonal to FuelState.
type HealthState int

const (
	Operational HealthState = iota
	BrokenDown
	AwaitingRepair
	UnderRepair
)

func (s HealthState) String() string {
	switch s {
	case Operational:
		return "OPERATIONAL"
	case BrokenDown:
		return "BROKEN_DOWN"
	case AwaitingRepair:
		return "AWAITING_REPAIR"
	case UnderRepair:
		return "UNDER_REPAIR"
	default:
		return "UNKNOWN"
	}
}

// next lists the single legal successor of every health state.
var healthNext = map[HealthState]HealthState{
	Operational:    BrokenDown,
	BrokenDown:     AwaitingRepair,
	AwaitingRepair: UnderRepair,
	UnderRepair:    Operational,
}

// CanTransition reports whether from -> to follows the breakdown cycle.
func (s HealthState) CanTransition(to HealthState) bool { return healthNext[s] == to }

// ErrHealthTransition is returned for transitions outside the breakdown cycle.
type ErrHealthTransition struct {
	From, To HealthState
}

func (e ErrHealthTransition) Error() string {
	return fmt.Sprintf("illegal health transition %s -> %s", e.From, e.To)
}
