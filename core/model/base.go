package model

// BaseKind identifies one of the off-grid depots.
type BaseKind int

const (
	BaseBus BaseKind = iota
	BaseTram
	BaseMaintenance
)

func (b BaseKind) String() string {
	switch b {
	case BaseTram:
		return "tram"
	case BaseMaintenance:
		return "maintenance"
	default:
		return "bus"
	}
}

// Base is an off-grid depot reachable through a single entry cell.
type Base struct {
	Kind     BaseKind `json:"kind"`
	Entry    Cell     `json:"entry"`
	Capacity int      `json:"capacity"`
}

// DefaultBases returns the depot layout of the reference 20x20 city.
func DefaultBases() map[BaseKind]Base {
	return map[BaseKind]Base{
		BaseBus:         {Kind: BaseBus, Entry: C(0, 10), Capacity: 15},
		BaseTram:        {Kind: BaseTram, Entry: C(19, 10), Capacity: 10},
		BaseMaintenance: {Kind: BaseMaintenance, Entry: C(10, 0), Capacity: 3},
	}
}
