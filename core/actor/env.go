package actor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/logger"
	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/pool"
	"github.com/kilianp07/cityfleet/core/traffic"
)

// Rand is the randomness source of the lifecycle loops. *rand.Rand
// satisfies it; tests inject scripted sources.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// NewRand returns a goroutine-safe seeded source.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// ScriptedRand replays fixed values, repeating the last one when exhausted.
// Empty scripts return 0.99 and 0 so that nothing random happens.
type ScriptedRand struct {
	mu     sync.Mutex
	Floats []float64
	Ints   []int
}

func (s *ScriptedRand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Floats) == 0 {
		return 0.99
	}
	v := s.Floats[0]
	if len(s.Floats) > 1 {
		s.Floats = s.Floats[1:]
	}
	return v
}

func (s *ScriptedRand) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Ints) == 0 || n <= 0 {
		return 0
	}
	v := s.Ints[0]
	if len(s.Ints) > 1 {
		s.Ints = s.Ints[1:]
	}
	return v % n
}

// Settings tunes the lifecycle loops.
type Settings struct {
	Tick                 time.Duration
	GridWidth            int
	GridHeight           int
	FuelCapacity         float64
	FuelPerStep          float64
	LowFuel              float64
	BreakdownProbability float64
	RefuelTime           time.Duration
	CandidateRadius      int
	RepairRadius         int
	SurgeRadiusBonus     int
	Floor                float64
	CostPerCell          float64
	RepairCooldown       time.Duration
	StationCFPInterval   time.Duration
}

// DefaultSettings mirrors the reference city: 20x20 grid, fuel 100 with a
// low threshold of 20, 2% breakdown chance per tick.
func DefaultSettings() Settings {
	return Settings{
		Tick:                 200 * time.Millisecond,
		GridWidth:            20,
		GridHeight:           20,
		FuelCapacity:         100,
		FuelPerStep:          1,
		LowFuel:              20,
		BreakdownProbability: 0.02,
		RefuelTime:           2 * time.Second,
		CandidateRadius:      10,
		RepairRadius:         40,
		SurgeRadiusBonus:     5,
		CostPerCell:          1,
		RepairCooldown:       30 * time.Second,
		StationCFPInterval:   5 * time.Second,
	}
}

// Env is what every actor is constructed with. One Env describes one
// simulation; several can coexist in a process.
type Env struct {
	Bus         *bus.Bus
	Pool        *pool.Pool
	Traffic     *traffic.Coordinator
	Directory   *Directory
	Depots      *Depots
	Conditions  *Conditions
	Faults      model.FaultCatalog
	Bases       map[model.BaseKind]model.Base
	Settings    Settings
	Negotiation cnp.Config
	Retry       cnp.RetryPolicy
	Rand        Rand
	Clock       func() time.Time
	Events      events.Emitter
	Log         logger.Logger
}

// withDefaults fills unset collaborators. Bus, Pool and Traffic must be set.
func (e Env) withDefaults() Env {
	if e.Directory == nil {
		e.Directory = NewDirectory()
	}
	if e.Bases == nil {
		e.Bases = model.DefaultBases()
	}
	if e.Depots == nil {
		e.Depots = NewDepots(e.Bases)
	}
	if e.Conditions == nil {
		e.Conditions = NewConditions()
	}
	if e.Faults == nil {
		e.Faults = model.DefaultFaults()
	}
	if e.Settings.Tick <= 0 {
		e.Settings = DefaultSettings()
	}
	if e.Negotiation.Window <= 0 {
		e.Negotiation = cnp.DefaultConfig()
	}
	if e.Retry == (cnp.RetryPolicy{}) {
		e.Retry = cnp.DefaultRetryPolicy()
	}
	if e.Rand == nil {
		e.Rand = NewRand(time.Now().UnixNano())
	}
	if e.Clock == nil {
		e.Clock = time.Now
	}
	if e.Events == nil {
		e.Events = events.NopEmitter{}
	}
	if e.Log == nil {
		e.Log = logger.NopLogger{}
	}
	return e
}
