package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/model"
)

const sample = `logging:
  level: debug
bus:
  attempts: 4
  interval: 20ms
pool:
  resources:
    tools: 6
    tow_hooks: 1
  max_wait: 45s
traffic:
  policies:
    bus: road
    tram: rail
negotiation:
  window: 3s
  weights:
    capacity: 0.5
    time: 0.3
    cost: 0.2
world:
  tick: 100ms
  breakdown_probability: 0
  weather: rain
  faults:
    - name: tire
      requirements: {tools: 2}
      repair: 2s
      urgency: 1
fleet:
  vehicles:
    - id: bus-1
      class: bus
      position: {x: 0, y: 10}
    - id: tram-1
      class: tram
      position: {x: 19, y: 10}
      capacity: 80
  stations:
    - id: st-1
      position: {x: 5, y: 10}
      arrival_rate: 1.5
  crews:
    - id: crew-1
metrics:
  sinks:
    - type: nop
journal:
  backend: sqlite
  path: run.db
mqtt:
  broker: tcp://localhost:1883
  topic_prefix: city
  triggers: true
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"logging.level", cfg.Logging.Level, "debug"},
		{"bus.attempts", cfg.Bus.Attempts, 4},
		{"bus.interval", cfg.Bus.Interval, 20 * time.Millisecond},
		{"bus.mailbox_size", cfg.Bus.MailboxSize, 64},
		{"pool.tools", cfg.Pool.Resources["tools"], 6},
		{"pool.max_wait", cfg.Pool.MaxWait, 45 * time.Second},
		{"negotiation.window", cfg.Negotiation.Window, 3 * time.Second},
		{"negotiation.weights.capacity", cfg.Negotiation.Weights.Capacity, 0.5},
		{"negotiation.max_attempts", cfg.Negotiation.MaxAttempts, 3},
		{"world.tick", cfg.World.Tick, 100 * time.Millisecond},
		{"world.breakdown", *cfg.World.BreakdownProbability, 0.0},
		{"world.weather", cfg.World.Weather, "rain"},
		{"world.faults", len(cfg.World.Faults), 1},
		{"world.fault.repair", cfg.World.Faults[0].Repair, 2 * time.Second},
		{"fleet.vehicles", len(cfg.Fleet.Vehicles), 2},
		{"fleet.tram.position", cfg.Fleet.Vehicles[1].Position, model.C(19, 10)},
		{"fleet.station.rate", cfg.Fleet.Stations[0].ArrivalRate, 1.5},
		{"metrics.sink", cfg.Metrics.Sinks[0].Type, "nop"},
		{"metrics.buffer", cfg.Metrics.Buffer, 256},
		{"journal.backend", cfg.Journal.Backend, "sqlite"},
		{"mqtt.prefix", cfg.MQTT.TopicPrefix, "city"},
		{"mqtt.triggers", cfg.MQTT.Triggers, true},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}
	assert.NotEmpty(t, cfg.MQTT.ClientID)

	spec, err := cfg.Fleet.Vehicles[1].Spec()
	require.NoError(t, err)
	assert.Equal(t, model.ClassTram, spec.Class)
	assert.Equal(t, 80, spec.Capacity)

	settings := cfg.World.Settings(cfg.Negotiation.SurgeRadiusBonus)
	assert.Equal(t, 0.0, settings.BreakdownProbability)
	assert.Equal(t, 5, settings.SurgeRadiusBonus)

	opts, err := cfg.Traffic.Options()
	require.NoError(t, err)
	assert.Len(t, opts, 2)
	assert.Equal(t, 0.5, cfg.Negotiation.Core().Scoring.Weights.Capacity)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pool": {"max_wait": "10s"}}`), 0o644))
	t.Setenv("K_POOL__MAX_WAIT", "30s")
	t.Setenv("K_BUS__ATTEMPTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Pool.MaxWait)
	assert.Equal(t, 7, cfg.Bus.Attempts)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pool": {"max_wait": "10s"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("K_BUS__ATTEMPTS=5\nK_POOL__MAX_WAIT=12s\n"), 0o600))
	t.Setenv("K_POOL__MAX_WAIT", "30s")
	t.Cleanup(func() { _ = os.Unsetenv("K_BUS__ATTEMPTS") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Bus.Attempts)
	assert.Equal(t, 30*time.Second, cfg.Pool.MaxWait)
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10, cfg.Bus.Attempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Bus.Interval)
	assert.Equal(t, map[string]int{"tools": 8, "tow_hooks": 2}, cfg.Pool.Resources)
	assert.Equal(t, 10*time.Second, cfg.Negotiation.Window)
	assert.Equal(t, WeightsConfig{Capacity: 0.3, Time: 0.4, Cost: 0.3}, cfg.Negotiation.Weights)
	assert.Equal(t, 0.02, *cfg.World.BreakdownProbability)
	assert.Equal(t, 20, cfg.World.GridWidth)
	assert.Len(t, cfg.World.Faults, 3)
	assert.Equal(t, "jsonl", cfg.Journal.Backend)
	assert.False(t, cfg.MQTT.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown format":   "logging:\n  format: xml\n",
		"bad level":        "logging:\n  level: loud\n",
		"bad class":        "fleet:\n  vehicles:\n    - id: v\n      class: boat\n",
		"missing id":       "fleet:\n  crews:\n    - speed: 1\n",
		"duplicate id":     "fleet:\n  vehicles:\n    - {id: a, class: bus}\n  crews:\n    - {id: a}\n",
		"bad weather":      "world:\n  weather: hail\n",
		"bad policy":       "traffic:\n  policies:\n    tram: teleport\n",
		"bad journal":      "journal:\n  backend: csv\n",
		"negative tools":   "pool:\n  resources:\n    tools: -1\n",
		"breakdown over 1": "world:\n  breakdown_probability: 2\n",
		"low fuel":         "world:\n  fuel_capacity: 10\n  low_fuel: 50\n",
		"sample rate":      "sentry:\n  traces_sample_rate: 3\n",
		"mqtt auth":        "mqtt:\n  broker: tcp://localhost:1883\n  auth_method: kerberos\n",
		"mqtt oauth2":      "mqtt:\n  broker: tcp://localhost:1883\n  auth_method: oauth2\n",
		"mqtt tls":         "mqtt:\n  broker: tcp://localhost:1883\n  use_tls: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load("config.toml")
	assert.Error(t, err)
}
