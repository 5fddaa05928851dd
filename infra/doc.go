// Package infra groups the adapters behind the core ports: the MQTT
// session, metrics sinks, the event journal, logging and error monitoring.
package infra
