// Package scenarios replays scripted fleet situations and checks their
// outcome.
package scenarios

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/cityfleet/app"
	"github.com/kilianp07/cityfleet/config"
	"github.com/kilianp07/cityfleet/core/actor"
)

//go:embed scenario.schema.json
var schemaJSON []byte

const schemaURL = "scenario.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Step is a trigger applied At after the scenario starts.
type Step struct {
	At          time.Duration `yaml:"at"`
	app.Trigger `yaml:",inline"`
}

// RandomDef scripts the randomness of the lifecycle loops. A non-zero seed
// uses a seeded source instead of the scripted values.
type RandomDef struct {
	Seed   int64     `yaml:"seed,omitempty"`
	Floats []float64 `yaml:"floats,omitempty"`
	Ints   []int     `yaml:"ints,omitempty"`
}

// Rand returns the source described by r.
func (r RandomDef) Rand() actor.Rand {
	if r.Seed != 0 {
		return actor.NewRand(r.Seed)
	}
	return &actor.ScriptedRand{
		Floats: append([]float64(nil), r.Floats...),
		Ints:   append([]int(nil), r.Ints...),
	}
}

// ContractExpectation bounds the number of contract events in one state.
// Empty initiator or task match any.
type ContractExpectation struct {
	Initiator string `yaml:"initiator,omitempty"`
	Task      string `yaml:"task,omitempty"`
	State     string `yaml:"state"`
	Min       int    `yaml:"min,omitempty"`
	Max       *int   `yaml:"max,omitempty"`
}

func (c ContractExpectation) String() string {
	s := c.State
	if c.Task != "" {
		s = c.Task + " " + s
	}
	if c.Initiator != "" {
		s = c.Initiator + " " + s
	}
	return s
}

// Expected is the outcome a scenario must reach.
type Expected struct {
	Contracts []ContractExpectation `yaml:"contracts,omitempty"`
	// Health and Fuel map actor ids to their final state names.
	Health map[string]string `yaml:"health,omitempty"`
	Fuel   map[string]string `yaml:"fuel,omitempty"`
	// Served maps station ids to a minimum number of served passengers.
	Served map[string]int `yaml:"served,omitempty"`
}

// Scenario is a world configuration, a script of triggers and the expected
// outcome.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Duration    time.Duration `yaml:"duration"`
	// FullRun keeps the world running for Duration even once every
	// expectation holds.
	FullRun  bool      `yaml:"full_run,omitempty"`
	Random   RandomDef `yaml:"random,omitempty"`
	Config   yaml.Node `yaml:"config"`
	Triggers []Step    `yaml:"triggers,omitempty"`
	Expected Expected  `yaml:"expect,omitempty"`
}

// Load reads a scenario file and validates it against the scenario schema.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a yaml scenario.
func Parse(data []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if err := validate(doc); err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	sort.SliceStable(sc.Triggers, func(i, j int) bool { return sc.Triggers[i].At < sc.Triggers[j].At })
	return &sc, nil
}

// validate checks a decoded yaml document. The document goes through json
// so the validator sees json types only.
func validate(doc any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("scenario is not a json document: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	return nil
}

// BuildConfig parses the embedded configuration. Scenarios never open a
// broker session or a metrics endpoint, and keep no journal unless the
// configuration asks for one.
func (sc *Scenario) BuildConfig() (*config.Config, error) {
	data, err := yaml.Marshal(&sc.Config)
	if err != nil {
		return nil, err
	}
	var sections map[string]any
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, err
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	if _, ok := sections["journal"]; !ok {
		cfg.Journal.Backend = "none"
	}
	cfg.MQTT.Triggers = false
	cfg.Metrics.Listen = ""
	if cfg.Metrics.Buffer < minBuffer {
		cfg.Metrics.Buffer = minBuffer
	}
	return cfg, nil
}
