package model

import "time"

// Snapshot is the read-only view of one actor returned to external callers.
type Snapshot struct {
	ID         string       `json:"id"`
	Role       Role         `json:"role"`
	Class      VehicleClass `json:"class"`
	Position   Cell         `json:"position"`
	Fuel       FuelState    `json:"fuel_state"`
	Health     HealthState  `json:"health_state"`
	FuelLevel  float64      `json:"fuel_level"`
	ContractID string       `json:"contract_id,omitempty"`
	Fault      string       `json:"fault,omitempty"`
	Load       int          `json:"load"`
	Capacity   int          `json:"capacity"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Visible reports whether the actor is part of the active population.
func (s Snapshot) Visible() bool { return s.Fuel == Active }
