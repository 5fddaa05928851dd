package metrics

import (
	"errors"

	"github.com/kilianp07/cityfleet/core/events"
)

// MultiSink fans events out to several sinks. Every sink sees every event;
// errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) fan(ev events.Event) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := Record(s, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordContract(ev events.ContractEvent) error   { return m.fan(ev) }
func (m *MultiSink) RecordResource(ev events.ResourceEvent) error   { return m.fan(ev) }
func (m *MultiSink) RecordOccupancy(ev events.OccupancyEvent) error { return m.fan(ev) }
func (m *MultiSink) RecordLifecycle(ev events.LifecycleEvent) error { return m.fan(ev) }
func (m *MultiSink) RecordDelivery(ev events.DeliveryEvent) error   { return m.fan(ev) }
func (m *MultiSink) RecordCondition(ev events.ConditionEvent) error { return m.fan(ev) }
