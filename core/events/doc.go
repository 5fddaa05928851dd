// Package events defines the discrete events the coordination core emits to
// external collectors. The core publishes them and keeps no aggregates.
//
// Available event types:
//   - ContractEvent: contract state transitions
//   - ResourceEvent: pool grants, queueing, releases and expiries
//   - OccupancyEvent: track occupancy grants, blocks and releases
//   - LifecycleEvent: fuel and health state changes of actors
//   - DeliveryEvent: bus deliveries that exhausted their retries
//   - ConditionEvent: weather and demand surge changes
package events
