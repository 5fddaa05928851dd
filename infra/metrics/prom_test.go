package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/events"
)

func TestPromSink_RecordContract(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordContract(events.ContractEvent{Task: "capacity", State: "OPEN"}))
	require.NoError(t, sink.RecordContract(events.ContractEvent{Task: "capacity", State: "AWARDED", Score: 0.7}))
	require.NoError(t, sink.RecordContract(events.ContractEvent{Task: "capacity", State: "AWARDED", Score: 0.9}))

	expected := `
# HELP fleet_contract_transitions_total Contract state transitions by task kind and state
# TYPE fleet_contract_transitions_total counter
fleet_contract_transitions_total{state="AWARDED",task="capacity"} 2
fleet_contract_transitions_total{state="OPEN",task="capacity"} 1
`
	if err := testutil.CollectAndCompare(sink.contracts, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	assert.Equal(t, 1, testutil.CollectAndCount(sink.scores))
}

func TestPromSink_OtherEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordResource(events.ResourceEvent{Action: events.ResourceQueued, Backlog: 2}))
	require.NoError(t, sink.RecordResource(events.ResourceEvent{Action: events.ResourceGranted, Backlog: 1, Wait: time.Second}))
	require.NoError(t, sink.RecordOccupancy(events.OccupancyEvent{Class: "tram", Action: events.OccupancyRailBlocked}))
	require.NoError(t, sink.RecordLifecycle(events.LifecycleEvent{Role: "vehicle", Axis: events.AxisFuel, To: "AT_BASE"}))
	require.NoError(t, sink.RecordDelivery(events.DeliveryEvent{Type: "CFP"}))
	require.NoError(t, sink.RecordCondition(events.ConditionEvent{Condition: "weather", Multiplier: 1.5}))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.resources.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.backlog))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.waits))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.occupancy.WithLabelValues("tram", "rail_blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.lifecycle.WithLabelValues("vehicle", "fuel", "AT_BASE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.delivery.WithLabelValues("CFP")))
	assert.Equal(t, 1.5, testutil.ToFloat64(sink.condition.WithLabelValues("weather")))
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	second, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, first.RecordDelivery(events.DeliveryEvent{Type: "ACK"}))
	require.NoError(t, second.RecordDelivery(events.DeliveryEvent{Type: "ACK"}))
	assert.Equal(t, 2.0, testutil.ToFloat64(first.delivery.WithLabelValues("ACK")))
}
