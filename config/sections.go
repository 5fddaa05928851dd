package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/cityfleet/core/actor"
	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/pool"
	"github.com/kilianp07/cityfleet/core/traffic"
)

// BusConfig tunes message delivery.
type BusConfig struct {
	Attempts    int           `json:"attempts" yaml:"attempts" validate:"gte=0"`
	Interval    time.Duration `json:"interval" yaml:"interval" validate:"gte=0"`
	MailboxSize int           `json:"mailbox_size" yaml:"mailbox_size" validate:"gte=0"`
}

// SetDefaults applies 10 attempts 50ms apart and 64-slot mailboxes.
func (c *BusConfig) SetDefaults() {
	def := bus.DefaultConfig()
	if c.Attempts == 0 {
		c.Attempts = def.Attempts
	}
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.MailboxSize == 0 {
		c.MailboxSize = def.MailboxSize
	}
}

// Core converts the section to bus.Config.
func (c BusConfig) Core() bus.Config {
	return bus.Config{Attempts: c.Attempts, Interval: c.Interval, MailboxSize: c.MailboxSize}
}

// PoolConfig sizes the maintenance supplies and tunes the backlog.
type PoolConfig struct {
	Resources       map[string]int `json:"resources" yaml:"resources"`
	ProximityWeight float64        `json:"proximity_weight" yaml:"proximity_weight" validate:"gte=0"`
	WaitWeight      float64        `json:"wait_weight" yaml:"wait_weight" validate:"gte=0"`
	MaxWait         time.Duration  `json:"max_wait" yaml:"max_wait" validate:"gte=0"`
	WaitWarning     time.Duration  `json:"wait_warning" yaml:"wait_warning" validate:"gte=0"`
	RetryBudget     int            `json:"retry_budget" yaml:"retry_budget" validate:"gte=0"`
	ScanInterval    time.Duration  `json:"scan_interval" yaml:"scan_interval" validate:"gte=0"`
}

// SetDefaults applies 8 tools, 2 tow hooks and the reference weights.
func (c *PoolConfig) SetDefaults() {
	if len(c.Resources) == 0 {
		c.Resources = map[string]int{model.ResourceTools: 8, model.ResourceTowHooks: 2}
	}
	def := pool.DefaultConfig()
	if c.ProximityWeight == 0 {
		c.ProximityWeight = def.ProximityWeight
	}
	if c.WaitWeight == 0 {
		c.WaitWeight = def.WaitWeight
	}
	if c.MaxWait == 0 {
		c.MaxWait = def.MaxWait
	}
	if c.WaitWarning == 0 {
		c.WaitWarning = def.WaitWarning
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = def.ScanInterval
	}
}

// Validate rejects negative totals.
func (c PoolConfig) Validate() error {
	for name, n := range c.Resources {
		if n < 0 {
			return fmt.Errorf("pool.resources.%s must not be negative", name)
		}
	}
	return nil
}

// Core converts the section to pool.Config.
func (c PoolConfig) Core() pool.Config {
	return pool.Config{
		ProximityWeight: c.ProximityWeight,
		WaitWeight:      c.WaitWeight,
		MaxWait:         c.MaxWait,
		WaitWarning:     c.WaitWarning,
		RetryBudget:     c.RetryBudget,
		ScanInterval:    c.ScanInterval,
	}
}

// TrafficConfig maps vehicle classes to occupancy policies.
type TrafficConfig struct {
	// Policies maps a class (bus, tram, service) to "rail" or "road".
	Policies map[string]string `json:"policies" yaml:"policies"`
}

// Validate checks class and policy names.
func (c TrafficConfig) Validate() error {
	_, err := c.Options()
	return err
}

// Options converts the section to coordinator options.
func (c TrafficConfig) Options() ([]traffic.Option, error) {
	var opts []traffic.Option
	for name, p := range c.Policies {
		class, err := model.ParseVehicleClass(name)
		if err != nil {
			return nil, fmt.Errorf("traffic.policies: %w", err)
		}
		switch p {
		case "rail":
			opts = append(opts, traffic.WithPolicy(class, traffic.RailPolicy{}))
		case "road":
			opts = append(opts, traffic.WithPolicy(class, traffic.RoadPolicy{}))
		default:
			return nil, fmt.Errorf("traffic.policies.%s: unknown policy %q", name, p)
		}
	}
	return opts, nil
}

// WeightsConfig are the proposal score weights.
type WeightsConfig struct {
	Capacity float64 `json:"capacity" yaml:"capacity" validate:"gte=0"`
	Time     float64 `json:"time" yaml:"time" validate:"gte=0"`
	Cost     float64 `json:"cost" yaml:"cost" validate:"gte=0"`
}

// NegotiationConfig tunes the contract net.
type NegotiationConfig struct {
	Window           time.Duration `json:"window" yaml:"window" validate:"gte=0"`
	AckGrace         time.Duration `json:"ack_grace" yaml:"ack_grace" validate:"gte=0"`
	ExecutionTimeout time.Duration `json:"execution_timeout" yaml:"execution_timeout" validate:"gte=0"`
	Weights          WeightsConfig `json:"weights" yaml:"weights"`
	CostCeiling      float64       `json:"cost_ceiling" yaml:"cost_ceiling" validate:"gte=0"`
	CapacityScale    int           `json:"capacity_scale" yaml:"capacity_scale" validate:"gte=0"`
	Retain           int           `json:"retain" yaml:"retain" validate:"gte=0"`
	MaxAttempts      int           `json:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
	RadiusStep       int           `json:"radius_step" yaml:"radius_step" validate:"gte=0"`
	FloorStep        float64       `json:"floor_step" yaml:"floor_step" validate:"gte=0"`
	SurgeRadiusBonus int           `json:"surge_radius_bonus" yaml:"surge_radius_bonus" validate:"gte=0"`
}

// SetDefaults applies the reference window, weights and retry policy.
func (c *NegotiationConfig) SetDefaults() {
	def := cnp.DefaultConfig()
	if c.Window == 0 {
		c.Window = def.Window
	}
	if c.AckGrace == 0 {
		c.AckGrace = def.AckGrace
	}
	if c.ExecutionTimeout == 0 {
		c.ExecutionTimeout = def.ExecutionTimeout
	}
	if c.Weights == (WeightsConfig{}) {
		w := def.Scoring.Weights
		c.Weights = WeightsConfig{Capacity: w.Capacity, Time: w.Time, Cost: w.Cost}
	}
	if c.CostCeiling == 0 {
		c.CostCeiling = def.Scoring.CostCeiling
	}
	if c.CapacityScale == 0 {
		c.CapacityScale = def.Scoring.CapacityScale
	}
	if c.Retain == 0 {
		c.Retain = def.Retain
	}
	retry := cnp.DefaultRetryPolicy()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = retry.MaxAttempts
	}
	if c.RadiusStep == 0 {
		c.RadiusStep = retry.RadiusStep
	}
	if c.FloorStep == 0 {
		c.FloorStep = retry.FloorStep
	}
	if c.SurgeRadiusBonus == 0 {
		c.SurgeRadiusBonus = actor.DefaultSettings().SurgeRadiusBonus
	}
}

// Validate requires a positive collection window.
func (c NegotiationConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("negotiation.window must be positive")
	}
	if c.Weights.Capacity+c.Weights.Time+c.Weights.Cost == 0 {
		return fmt.Errorf("negotiation.weights must not all be zero")
	}
	return nil
}

// Core converts the section to cnp.Config.
func (c NegotiationConfig) Core() cnp.Config {
	return cnp.Config{
		Window:           c.Window,
		AckGrace:         c.AckGrace,
		ExecutionTimeout: c.ExecutionTimeout,
		Scoring: cnp.Scoring{
			Weights:       cnp.Weights{Capacity: c.Weights.Capacity, Time: c.Weights.Time, Cost: c.Weights.Cost},
			CostCeiling:   c.CostCeiling,
			CapacityScale: c.CapacityScale,
		},
		Retain: c.Retain,
	}
}

// Retry converts the section to cnp.RetryPolicy.
func (c NegotiationConfig) Retry() cnp.RetryPolicy {
	return cnp.RetryPolicy{MaxAttempts: c.MaxAttempts, RadiusStep: c.RadiusStep, FloorStep: c.FloorStep}
}

// WorldConfig describes the simulated city.
type WorldConfig struct {
	Tick                 time.Duration      `json:"tick" yaml:"tick" validate:"gte=0"`
	GridWidth            int                `json:"grid_width" yaml:"grid_width" validate:"gte=0"`
	GridHeight           int                `json:"grid_height" yaml:"grid_height" validate:"gte=0"`
	FuelCapacity         float64            `json:"fuel_capacity" yaml:"fuel_capacity" validate:"gte=0"`
	FuelPerStep          float64            `json:"fuel_per_step" yaml:"fuel_per_step" validate:"gte=0"`
	LowFuel              float64            `json:"low_fuel" yaml:"low_fuel" validate:"gte=0"`
	BreakdownProbability *float64           `json:"breakdown_probability" yaml:"breakdown_probability" validate:"omitempty,gte=0,lte=1"`
	RefuelTime           time.Duration      `json:"refuel_time" yaml:"refuel_time" validate:"gte=0"`
	CandidateRadius      int                `json:"candidate_radius" yaml:"candidate_radius" validate:"gte=0"`
	RepairRadius         int                `json:"repair_radius" yaml:"repair_radius" validate:"gte=0"`
	Floor                float64            `json:"floor" yaml:"floor"`
	CostPerCell          float64            `json:"cost_per_cell" yaml:"cost_per_cell" validate:"gte=0"`
	RepairCooldown       time.Duration      `json:"repair_cooldown" yaml:"repair_cooldown" validate:"gte=0"`
	StationCFPInterval   time.Duration      `json:"station_cfp_interval" yaml:"station_cfp_interval" validate:"gte=0"`
	Seed                 int64              `json:"seed" yaml:"seed"`
	Weather              string             `json:"weather" yaml:"weather"`
	Faults               []model.FaultClass `json:"faults" yaml:"faults"`
}

// SetDefaults fills zero values from the reference city.
func (c *WorldConfig) SetDefaults() {
	def := actor.DefaultSettings()
	if c.Tick == 0 {
		c.Tick = def.Tick
	}
	if c.GridWidth == 0 {
		c.GridWidth = def.GridWidth
	}
	if c.GridHeight == 0 {
		c.GridHeight = def.GridHeight
	}
	if c.FuelCapacity == 0 {
		c.FuelCapacity = def.FuelCapacity
	}
	if c.FuelPerStep == 0 {
		c.FuelPerStep = def.FuelPerStep
	}
	if c.LowFuel == 0 {
		c.LowFuel = def.LowFuel
	}
	if c.BreakdownProbability == nil {
		p := def.BreakdownProbability
		c.BreakdownProbability = &p
	}
	if c.RefuelTime == 0 {
		c.RefuelTime = def.RefuelTime
	}
	if c.CandidateRadius == 0 {
		c.CandidateRadius = def.CandidateRadius
	}
	if c.RepairRadius == 0 {
		c.RepairRadius = def.RepairRadius
	}
	if c.CostPerCell == 0 {
		c.CostPerCell = def.CostPerCell
	}
	if c.RepairCooldown == 0 {
		c.RepairCooldown = def.RepairCooldown
	}
	if c.StationCFPInterval == 0 {
		c.StationCFPInterval = def.StationCFPInterval
	}
	if c.Weather == "" {
		c.Weather = string(actor.Clear)
	}
	if len(c.Faults) == 0 {
		c.Faults = model.DefaultFaults()
	}
}

// Validate checks the weather name, the fault catalogue and the fuel levels.
func (c WorldConfig) Validate() error {
	if _, err := actor.ParseWeather(c.Weather); err != nil {
		return fmt.Errorf("world.weather: %w", err)
	}
	if err := model.FaultCatalog(c.Faults).Validate(); err != nil {
		return fmt.Errorf("world.faults: %w", err)
	}
	if c.LowFuel > c.FuelCapacity {
		return fmt.Errorf("world.low_fuel exceeds fuel_capacity")
	}
	return nil
}

// Settings converts the section to actor.Settings. The surge bonus lives in
// the negotiation section.
func (c WorldConfig) Settings(surgeBonus int) actor.Settings {
	return actor.Settings{
		Tick:                 c.Tick,
		GridWidth:            c.GridWidth,
		GridHeight:           c.GridHeight,
		FuelCapacity:         c.FuelCapacity,
		FuelPerStep:          c.FuelPerStep,
		LowFuel:              c.LowFuel,
		BreakdownProbability: c.breakdown(),
		RefuelTime:           c.RefuelTime,
		CandidateRadius:      c.CandidateRadius,
		RepairRadius:         c.RepairRadius,
		SurgeRadiusBonus:     surgeBonus,
		Floor:                c.Floor,
		CostPerCell:          c.CostPerCell,
		RepairCooldown:       c.RepairCooldown,
		StationCFPInterval:   c.StationCFPInterval,
	}
}

func (c WorldConfig) breakdown() float64 {
	if c.BreakdownProbability == nil {
		return actor.DefaultSettings().BreakdownProbability
	}
	return *c.BreakdownProbability
}

// VehicleConfig declares one bus or tram.
type VehicleConfig struct {
	ID       string     `json:"id" yaml:"id" validate:"required"`
	Class    string     `json:"class" yaml:"class" validate:"required,oneof=bus tram"`
	Position model.Cell `json:"position" yaml:"position"`
	Capacity int        `json:"capacity" yaml:"capacity" validate:"gte=0"`
	Speed    float64    `json:"speed" yaml:"speed" validate:"gte=0"`
}

// Spec converts the entry to actor.VehicleSpec.
func (c VehicleConfig) Spec() (actor.VehicleSpec, error) {
	class, err := model.ParseVehicleClass(c.Class)
	if err != nil {
		return actor.VehicleSpec{}, err
	}
	return actor.VehicleSpec{ID: c.ID, Class: class, Position: c.Position, Capacity: c.Capacity, Speed: c.Speed}, nil
}

// StationConfig declares one passenger station.
type StationConfig struct {
	ID          string     `json:"id" yaml:"id" validate:"required"`
	Position    model.Cell `json:"position" yaml:"position"`
	ArrivalRate float64    `json:"arrival_rate" yaml:"arrival_rate" validate:"gte=0"`
	Threshold   int        `json:"threshold" yaml:"threshold" validate:"gte=0"`
	MaxQueue    int        `json:"max_queue" yaml:"max_queue" validate:"gte=0"`
}

// Spec converts the entry to actor.StationSpec.
func (c StationConfig) Spec() actor.StationSpec {
	return actor.StationSpec{ID: c.ID, Position: c.Position, ArrivalRate: c.ArrivalRate, Threshold: c.Threshold, MaxQueue: c.MaxQueue}
}

// CrewConfig declares one maintenance crew.
type CrewConfig struct {
	ID       string      `json:"id" yaml:"id" validate:"required"`
	Position *model.Cell `json:"position" yaml:"position"`
	Speed    float64     `json:"speed" yaml:"speed" validate:"gte=0"`
}

// Spec converts the entry to actor.CrewSpec.
func (c CrewConfig) Spec() actor.CrewSpec {
	return actor.CrewSpec{ID: c.ID, Position: c.Position, Speed: c.Speed}
}

// FleetConfig lists the actors of a simulation.
type FleetConfig struct {
	Vehicles []VehicleConfig `json:"vehicles" yaml:"vehicles" validate:"dive"`
	Stations []StationConfig `json:"stations" yaml:"stations" validate:"dive"`
	Crews    []CrewConfig    `json:"crews" yaml:"crews" validate:"dive"`
}

// Validate rejects duplicate ids across roles.
func (c FleetConfig) Validate() error {
	seen := map[string]bool{}
	check := func(id string) error {
		if seen[id] {
			return fmt.Errorf("fleet: duplicate actor id %q", id)
		}
		seen[id] = true
		return nil
	}
	for _, v := range c.Vehicles {
		if err := check(v.ID); err != nil {
			return err
		}
	}
	for _, s := range c.Stations {
		if err := check(s.ID); err != nil {
			return err
		}
	}
	for _, cr := range c.Crews {
		if err := check(cr.ID); err != nil {
			return err
		}
	}
	return nil
}
