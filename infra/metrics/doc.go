// Package metrics provides the Prometheus, InfluxDB and MQTT metrics sinks,
// the event collector feeding them from the event bus, and the Prometheus
// HTTP endpoint.
package metrics
