package bus

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesSent     *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	deliveryRetries  prometheus.Counter
	registeredActors prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter, prometheus.Gauge) {
	sent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_sent_total",
			Help: "Number of per-recipient deliveries started",
		},
		[]string{"type"},
	)
	failed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_delivery_failures_total",
			Help: "Number of deliveries that exhausted their attempts",
		},
		[]string{"type", "reason"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_delivery_retries_total",
			Help: "Number of delivery attempts beyond the first",
		},
	)
	reg := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_registered_actors",
			Help: "Number of registered mailboxes",
		},
	)
	return sent, failed, retries, reg
}

func init() {
	messagesSent, deliveryFailures, deliveryRetries, registeredActors = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers bus metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(messagesSent, deliveryFailures, deliveryRetries, registeredActors)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	messagesSent, deliveryFailures, deliveryRetries, registeredActors = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
