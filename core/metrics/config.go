package metrics

import (
	"fmt"

	"github.com/kilianp07/cityfleet/core/factory"
)

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" yaml:"sinks"`
	// Listen is the address of the Prometheus HTTP endpoint. Empty disables it.
	Listen string `json:"listen" yaml:"listen"`
	// Buffer is the event collector subscription size.
	Buffer int `json:"buffer" yaml:"buffer"`
}

// SetDefaults applies the default buffer size.
func (c *Config) SetDefaults() {
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
}

// Validate checks that every sink is known.
func (c Config) Validate() error {
	registered := len(SinkNames()) > 0
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("metrics.sinks[%d]: type is required", i)
		}
		if registered && !knownSink(s.Type) {
			return fmt.Errorf("metrics.sinks[%d]: %w %q", i, ErrUnknownSink, s.Type)
		}
	}
	return nil
}
