package metrics

import (
	"errors"
	"fmt"

	"github.com/kilianp07/cityfleet/core/factory"
)

// ErrUnknownSink is returned for a sink type no package registered.
var ErrUnknownSink = errors.New("unknown metrics sink")

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a metrics sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	if name == "" {
		return errors.New("metrics sink needs a name")
	}
	return sinkRegistry.Register(name, f)
}

// SinkNames lists the registered sink types.
func SinkNames() []string { return sinkRegistry.Names() }

func knownSink(name string) bool {
	for _, n := range sinkRegistry.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// NewMetricsSink builds the configured sinks. Nop sinks are dropped, an empty
// result is a NopSink and a single sink is returned without a MultiSink.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	var sinks []MetricsSink
	for i, c := range cfgs {
		if !knownSink(c.Type) {
			return nil, fmt.Errorf("metrics.sinks[%d]: %w %q (known: %v)", i, ErrUnknownSink, c.Type, SinkNames())
		}
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, fmt.Errorf("metrics.sinks[%d] (%s): %w", i, c.Type, err)
		}
		if _, nop := s.(NopSink); nop || s == nil {
			continue
		}
		sinks = append(sinks, s)
	}
	switch len(sinks) {
	case 0:
		return NopSink{}, nil
	case 1:
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}
