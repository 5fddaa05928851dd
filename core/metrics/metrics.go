package metrics

import (
	"fmt"

	"github.com/kilianp07/cityfleet/core/events"
)

// MetricsSink is implemented by every sink. Contract transitions are the one
// event kind all sinks must handle; the rest are optional recorders.
type MetricsSink interface {
	RecordContract(ev events.ContractEvent) error
}

// ResourceRecorder receives resource pool events.
type ResourceRecorder interface {
	RecordResource(ev events.ResourceEvent) error
}

// OccupancyRecorder receives track occupancy events.
type OccupancyRecorder interface {
	RecordOccupancy(ev events.OccupancyEvent) error
}

// LifecycleRecorder receives fuel and health transitions.
type LifecycleRecorder interface {
	RecordLifecycle(ev events.LifecycleEvent) error
}

// DeliveryRecorder receives failed bus deliveries.
type DeliveryRecorder interface {
	RecordDelivery(ev events.DeliveryEvent) error
}

// ConditionRecorder receives weather and surge changes.
type ConditionRecorder interface {
	RecordCondition(ev events.ConditionEvent) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordContract(events.ContractEvent) error   { return nil }
func (NopSink) RecordResource(events.ResourceEvent) error   { return nil }
func (NopSink) RecordOccupancy(events.OccupancyEvent) error { return nil }
func (NopSink) RecordLifecycle(events.LifecycleEvent) error { return nil }
func (NopSink) RecordDelivery(events.DeliveryEvent) error   { return nil }
func (NopSink) RecordCondition(events.ConditionEvent) error { return nil }

// Record routes ev to the matching recorder of sink. Events the sink does not
// record are ignored.
func Record(sink MetricsSink, ev events.Event) error {
	switch e := ev.(type) {
	case events.ContractEvent:
		return sink.RecordContract(e)
	case events.ResourceEvent:
		if r, ok := sink.(ResourceRecorder); ok {
			return r.RecordResource(e)
		}
	case events.OccupancyEvent:
		if r, ok := sink.(OccupancyRecorder); ok {
			return r.RecordOccupancy(e)
		}
	case events.LifecycleEvent:
		if r, ok := sink.(LifecycleRecorder); ok {
			return r.RecordLifecycle(e)
		}
	case events.DeliveryEvent:
		if r, ok := sink.(DeliveryRecorder); ok {
			return r.RecordDelivery(e)
		}
	case events.ConditionEvent:
		if r, ok := sink.(ConditionRecorder); ok {
			return r.RecordCondition(e)
		}
	case nil:
		return nil
	default:
		return fmt.Errorf("metrics: unsupported event %T", ev)
	}
	return nil
}
