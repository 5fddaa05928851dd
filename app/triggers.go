package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/cityfleet/core/actor"
	"github.com/kilianp07/cityfleet/core/model"
)

// Trigger kinds accepted from MQTT and scenario files.
const (
	TriggerBreakdown = "breakdown"
	TriggerWeather   = "weather"
	TriggerSurge     = "surge"
	TriggerDeploy    = "deploy"
)

// Trigger is an external stimulus applied to a running fleet.
type Trigger struct {
	Kind      string        `json:"kind" yaml:"kind"`
	Vehicle   string        `json:"vehicle,omitempty" yaml:"vehicle,omitempty"`
	Fault     string        `json:"fault,omitempty" yaml:"fault,omitempty"`
	Weather   string        `json:"weather,omitempty" yaml:"weather,omitempty"`
	Location  model.Cell    `json:"location,omitempty" yaml:"location,omitempty"`
	Radius    int           `json:"radius,omitempty" yaml:"radius,omitempty"`
	Intensity float64       `json:"intensity,omitempty" yaml:"intensity,omitempty"`
	Duration  time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// UnmarshalJSON accepts the duration as a Go duration string such as "30s"
// or as integer nanoseconds.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	type plain Trigger
	aux := struct {
		*plain
		Duration json.RawMessage `json:"duration,omitempty"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Duration) == 0 || string(aux.Duration) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.Duration, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("trigger duration: %w", err)
		}
		t.Duration = d
		return nil
	}
	var ns int64
	if err := json.Unmarshal(aux.Duration, &ns); err != nil {
		return fmt.Errorf("trigger duration: %w", err)
	}
	t.Duration = time.Duration(ns)
	return nil
}

// ParseTrigger decodes an MQTT payload. The kind is taken from the last
// topic level when the payload does not set it.
func ParseTrigger(topic string, payload []byte) (Trigger, error) {
	var t Trigger
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t); err != nil {
			return Trigger{}, fmt.Errorf("decode trigger: %w", err)
		}
	}
	if t.Kind == "" {
		t.Kind = topic[strings.LastIndex(topic, "/")+1:]
	}
	return t, nil
}

// Apply executes t against f.
func Apply(ctx context.Context, f *actor.Fleet, t Trigger) error {
	switch t.Kind {
	case TriggerBreakdown:
		return f.InjectBreakdown(ctx, t.Vehicle, t.Fault)
	case TriggerWeather:
		w, err := actor.ParseWeather(t.Weather)
		if err != nil {
			return err
		}
		return f.SetWeather(w)
	case TriggerSurge:
		if t.Radius <= 0 || t.Intensity <= 0 || t.Duration <= 0 {
			return fmt.Errorf("surge needs positive radius, intensity and duration")
		}
		f.Surge(t.Location, t.Radius, t.Intensity, t.Duration)
		return nil
	case TriggerDeploy:
		return f.Deploy(ctx, t.Vehicle)
	}
	return fmt.Errorf("unknown trigger %q", t.Kind)
}
