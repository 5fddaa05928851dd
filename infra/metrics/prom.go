package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/cityfleet/core/events"
	coremetrics "github.com/kilianp07/cityfleet/core/metrics"
)

// PromSink records fleet events in Prometheus metrics.
type PromSink struct {
	contracts *prometheus.CounterVec
	scores    *prometheus.HistogramVec
	resources *prometheus.CounterVec
	waits     prometheus.Histogram
	backlog   prometheus.Gauge
	occupancy *prometheus.CounterVec
	lifecycle *prometheus.CounterVec
	delivery  *prometheus.CounterVec
	condition *prometheus.GaugeVec
}

// NewPromSink registers fleet metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.contracts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_contract_transitions_total",
		Help: "Contract state transitions by task kind and state",
	}, []string{"task", "state"})); err != nil {
		return nil, err
	}
	if s.scores, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_contract_award_score",
		Help:    "Score of the winning proposal",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"task"})); err != nil {
		return nil, err
	}
	if s.resources, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_resource_events_total",
		Help: "Resource pool events by action",
	}, []string{"action"})); err != nil {
		return nil, err
	}
	if s.waits, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_resource_wait_seconds",
		Help:    "Time a reservation spent in the backlog before it was granted or expired",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})); err != nil {
		return nil, err
	}
	if s.backlog, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_resource_backlog",
		Help: "Reservations waiting in the backlog",
	})); err != nil {
		return nil, err
	}
	if s.occupancy, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_occupancy_events_total",
		Help: "Track occupancy events by vehicle class and action",
	}, []string{"class", "action"})); err != nil {
		return nil, err
	}
	if s.lifecycle, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_lifecycle_transitions_total",
		Help: "Actor fuel and health transitions",
	}, []string{"role", "axis", "to"})); err != nil {
		return nil, err
	}
	if s.delivery, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_delivery_failures_total",
		Help: "Messages the bus gave up on",
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if s.condition, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_condition_multiplier",
		Help: "Latest multiplier applied by a weather or surge change",
	}, []string{"condition"})); err != nil {
		return nil, err
	}
	return s, nil
}

var _ coremetrics.MetricsSink = (*PromSink)(nil)

// RecordContract counts the transition and observes the award score.
func (s *PromSink) RecordContract(ev events.ContractEvent) error {
	s.contracts.WithLabelValues(ev.Task, ev.State).Inc()
	if ev.State == "AWARDED" {
		s.scores.WithLabelValues(ev.Task).Observe(ev.Score)
	}
	return nil
}

func (s *PromSink) RecordResource(ev events.ResourceEvent) error {
	s.resources.WithLabelValues(ev.Action).Inc()
	s.backlog.Set(float64(ev.Backlog))
	if ev.Wait > 0 && (ev.Action == events.ResourceGranted || ev.Action == events.ResourceExpired) {
		s.waits.Observe(ev.Wait.Seconds())
	}
	return nil
}

func (s *PromSink) RecordOccupancy(ev events.OccupancyEvent) error {
	s.occupancy.WithLabelValues(ev.Class, ev.Action).Inc()
	return nil
}

func (s *PromSink) RecordLifecycle(ev events.LifecycleEvent) error {
	s.lifecycle.WithLabelValues(ev.Role, ev.Axis, ev.To).Inc()
	return nil
}

func (s *PromSink) RecordDelivery(ev events.DeliveryEvent) error {
	s.delivery.WithLabelValues(ev.Type).Inc()
	return nil
}

func (s *PromSink) RecordCondition(ev events.ConditionEvent) error {
	s.condition.WithLabelValues(ev.Condition).Set(ev.Multiplier)
	return nil
}
