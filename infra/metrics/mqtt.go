package metrics

import (
	"encoding/json"

	"github.com/kilianp07/cityfleet/core/events"
	coremetrics "github.com/kilianp07/cityfleet/core/metrics"
	coremqtt "github.com/kilianp07/cityfleet/core/mqtt"
)

// MQTTSink publishes every event as JSON on <prefix>/events/<kind>.
type MQTTSink struct {
	pub    coremqtt.Publisher
	prefix string
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub coremqtt.Publisher, prefix string) *MQTTSink {
	if prefix == "" {
		prefix = "cityfleet"
	}
	return &MQTTSink{pub: pub, prefix: prefix}
}

var _ coremetrics.MetricsSink = (*MQTTSink)(nil)

func (s *MQTTSink) publish(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.prefix+"/events/"+ev.Kind(), payload)
}

func (s *MQTTSink) RecordContract(ev events.ContractEvent) error   { return s.publish(ev) }
func (s *MQTTSink) RecordResource(ev events.ResourceEvent) error   { return s.publish(ev) }
func (s *MQTTSink) RecordOccupancy(ev events.OccupancyEvent) error { return s.publish(ev) }
func (s *MQTTSink) RecordLifecycle(ev events.LifecycleEvent) error { return s.publish(ev) }
func (s *MQTTSink) RecordDelivery(ev events.DeliveryEvent) error   { return s.publish(ev) }
func (s *MQTTSink) RecordCondition(ev events.ConditionEvent) error { return s.publish(ev) }
