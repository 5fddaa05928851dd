// Package metrics defines the sink ports that turn core events into metrics.
// Every sink records contract transitions and may implement the optional
// recorders for the other event kinds. Record routes an event to the right
// recorder, and NewMetricsSink builds a MultiSink when several sinks are
// configured.
package metrics
