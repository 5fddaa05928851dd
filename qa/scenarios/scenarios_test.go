package scenarios

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		sc, err := Load(f)
		require.NoError(t, err, f)
		t.Run(sc.Name, func(t *testing.T) {
			rep, err := Run(context.Background(), sc)
			require.NoError(t, err)
			assert.True(t, rep.Passed(), "failures: %v, trigger errors: %v", rep.Failures, rep.TriggerErrors)
			assert.Less(t, rep.Elapsed, sc.Duration, "expectations should hold before the deadline")
		})
	}
}

const quiet = `
name: quiet
duration: 100ms
config:
  world:
    tick: 5ms
    breakdown_probability: 0
  fleet:
    vehicles:
      - {id: bus-1, class: bus, position: {x: 1, y: 1}}
`

func TestUnmetExpectationIsReported(t *testing.T) {
	sc, err := Parse([]byte(quiet + `
expect:
  contracts:
    - {state: DONE, min: 1}
  health:
    bus-1: BROKEN_DOWN
    ghost: OPERATIONAL
`))
	require.NoError(t, err)

	rep, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, rep.Passed())
	assert.Equal(t, []string{
		"contracts DONE: got 0, want at least 1",
		"health bus-1: got OPERATIONAL, want BROKEN_DOWN",
		"health ghost: unknown actor",
	}, rep.Failures)
	assert.GreaterOrEqual(t, rep.Elapsed, 100*time.Millisecond)
}

func TestTriggerErrorsAreReported(t *testing.T) {
	sc, err := Parse([]byte(quiet + `
triggers:
  - {at: 5ms, kind: breakdown, vehicle: ghost, fault: engine}
`))
	require.NoError(t, err)

	rep, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, rep.Passed())
	require.Len(t, rep.TriggerErrors, 1)
	assert.Contains(t, rep.TriggerErrors[0], "breakdown at 5ms")
	assert.Empty(t, rep.Failures)
}

func TestUnreachedTriggersAreReported(t *testing.T) {
	sc, err := Parse([]byte(quiet + `
triggers:
  - {at: 1h, kind: weather, weather: snow}
`))
	require.NoError(t, err)

	rep, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather at 1h0m0s: not reached"}, rep.TriggerErrors)
}

func TestParseSortsTriggers(t *testing.T) {
	sc, err := Parse([]byte(quiet + `
triggers:
  - {at: 50ms, kind: deploy, vehicle: bus-1}
  - {at: 10ms, kind: weather, weather: rain}
  - {at: 20ms, kind: surge, location: {x: 2, y: 2}, radius: 3, intensity: 0.5, duration: 1s}
`))
	require.NoError(t, err)
	require.Len(t, sc.Triggers, 3)
	assert.Equal(t, "weather", sc.Triggers[0].Kind)
	assert.Equal(t, "surge", sc.Triggers[1].Kind)
	assert.Equal(t, time.Second, sc.Triggers[1].Duration)
	assert.Equal(t, 3, sc.Triggers[1].Radius)
	assert.Equal(t, "deploy", sc.Triggers[2].Kind)
}

func TestBuildConfigIsolatesScenario(t *testing.T) {
	sc, err := Parse([]byte(quiet))
	require.NoError(t, err)
	cfg, err := sc.BuildConfig()
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Journal.Backend)
	assert.False(t, cfg.MQTT.Triggers)
	assert.Empty(t, cfg.Metrics.Listen)
	assert.GreaterOrEqual(t, cfg.Metrics.Buffer, minBuffer)
	require.Len(t, cfg.Fleet.Vehicles, 1)
	assert.Equal(t, 5*time.Millisecond, cfg.World.Tick)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load("no-file.yaml")
	require.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(":"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)

	cases := map[string]string{
		"missing name":      "duration: 1s\nconfig: {}\n",
		"bad duration":      "name: x\nduration: soon\nconfig: {}\n",
		"unknown field":     "name: x\nduration: 1s\nconfig: {}\nextra: 1\n",
		"unknown trigger":   "name: x\nduration: 1s\nconfig: {}\ntriggers:\n  - {at: 1s, kind: meteor}\n",
		"breakdown no id":   "name: x\nduration: 1s\nconfig: {}\ntriggers:\n  - {at: 1s, kind: breakdown}\n",
		"surge incomplete":  "name: x\nduration: 1s\nconfig: {}\ntriggers:\n  - {at: 1s, kind: surge, radius: 2}\n",
		"bad contract":      "name: x\nduration: 1s\nconfig: {}\nexpect:\n  contracts:\n    - {state: WON}\n",
		"bad health":        "name: x\nduration: 1s\nconfig: {}\nexpect:\n  health: {bus-1: FINE}\n",
		"negative served":   "name: x\nduration: 1s\nconfig: {}\nexpect:\n  served: {station-1: -1}\n",
		"intensity too big": "name: x\nduration: 1s\nconfig: {}\ntriggers:\n  - {at: 1s, kind: surge, location: {x: 1, y: 1}, radius: 2, intensity: 2, duration: 1s}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), "invalid scenario"), err.Error())
		})
	}
}
