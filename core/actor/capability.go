package actor

import (
	"context"

	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/model"
)

// Actor is the behaviour shared by every fleet member.
type Actor interface {
	ID() string
	Role() model.Role
	// Run drives the actor until ctx is done.
	Run(ctx context.Context) error
	Snapshot() model.Snapshot
}

// CanInitiateContract is implemented by actors that open contracts.
type CanInitiateContract interface {
	Contracts() *cnp.Initiator
}

// CanBidOnContract is implemented by actors that answer CFPs.
type CanBidOnContract interface {
	cnp.Bidder
	// BidsOn reports whether the actor answers CFPs of a task kind.
	BidsOn(kind string) bool
}

// CanReserveResources is implemented by actors holding pool reservations.
type CanReserveResources interface {
	// HeldJobs returns the pool job ids the actor currently holds or waits for.
	HeldJobs() []string
}
