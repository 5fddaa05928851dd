// Package actor implements the fleet participants: vehicles, stations and
// maintenance crews. Each actor is an independent task driven by a select
// over its mailbox, a periodic tick, contract outcomes and cancellation.
// Actors only interact through the bus, the resource pool and the traffic
// coordinator.
package actor
