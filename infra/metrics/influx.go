package metrics

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/cityfleet/core/events"
	coremetrics "github.com/kilianp07/cityfleet/core/metrics"
	"github.com/kilianp07/cityfleet/infra/logger"
)

// InfluxSink writes fleet events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordContract writes a contract_transition point.
func (s *InfluxSink) RecordContract(ev events.ContractEvent) error {
	p := write.NewPointWithMeasurement("contract_transition").
		AddTag("task", ev.Task).
		AddTag("state", ev.State).
		AddTag("initiator", ev.Initiator).
		AddField("contract_id", ev.ContractID).
		AddField("proposals", ev.Proposals).
		AddField("attempt", ev.Attempt).
		AddField("score", round3(ev.Score))
	if ev.Winner != "" {
		p = p.AddField("winner", ev.Winner)
	}
	if ev.Reason != "" {
		p = p.AddField("reason", ev.Reason)
	}
	return s.write(p.SetTime(ev.Time))
}

func (s *InfluxSink) RecordResource(ev events.ResourceEvent) error {
	p := write.NewPointWithMeasurement("resource_event").
		AddTag("action", ev.Action).
		AddField("job_id", ev.JobID).
		AddField("backlog", ev.Backlog).
		AddField("wait_ms", round3(ev.Wait.Seconds()*1000))
	names := make([]string, 0, len(ev.Available))
	for name := range ev.Available {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p = p.AddField("available_"+name, ev.Available[name])
	}
	return s.write(p.SetTime(ev.Time))
}

func (s *InfluxSink) RecordOccupancy(ev events.OccupancyEvent) error {
	p := write.NewPointWithMeasurement("occupancy_event").
		AddTag("class", ev.Class).
		AddTag("action", ev.Action).
		AddTag("vehicle_id", ev.VehicleID).
		AddField("segment", ev.Segment).
		AddField("direction", ev.Direction)
	if ev.BlockedBy != "" {
		p = p.AddField("blocked_by", ev.BlockedBy)
	}
	return s.write(p.SetTime(ev.Time))
}

func (s *InfluxSink) RecordLifecycle(ev events.LifecycleEvent) error {
	p := write.NewPointWithMeasurement("lifecycle_transition").
		AddTag("actor_id", ev.ActorID).
		AddTag("role", ev.Role).
		AddTag("axis", ev.Axis).
		AddField("from", ev.From).
		AddField("to", ev.To).
		AddField("position", ev.Position)
	if ev.Fault != "" {
		p = p.AddField("fault", ev.Fault)
	}
	return s.write(p.SetTime(ev.Time))
}

func (s *InfluxSink) RecordDelivery(ev events.DeliveryEvent) error {
	p := write.NewPointWithMeasurement("delivery_failure").
		AddTag("type", ev.Type).
		AddTag("recipient", ev.Recipient).
		AddField("sender", ev.Sender).
		AddField("attempts", ev.Attempts).
		AddField("error", ev.Error).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordCondition(ev events.ConditionEvent) error {
	p := write.NewPointWithMeasurement("condition_change").
		AddTag("condition", ev.Condition).
		AddField("value", ev.Value).
		AddField("multiplier", round3(ev.Multiplier)).
		SetTime(ev.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
