package actor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/model"
)

// Errors returned by Fleet.
var (
	ErrUnknownActor = errors.New("unknown actor")
	ErrNotVehicle   = errors.New("actor is not a vehicle")
	ErrInactive     = errors.New("vehicle is not active")
	ErrRunning      = errors.New("fleet already running")
)

// Fleet owns the actors of one simulation and the external trigger inputs.
type Fleet struct {
	env Env

	mu      sync.RWMutex
	actors  map[string]Actor
	order   []string
	running bool
}

// NewFleet validates env and fills its optional collaborators.
func NewFleet(env Env) (*Fleet, error) {
	if env.Bus == nil || env.Pool == nil || env.Traffic == nil {
		return nil, errors.New("fleet needs a bus, a pool and a traffic coordinator")
	}
	env = env.withDefaults()
	if err := env.Faults.Validate(); err != nil {
		return nil, err
	}
	env.Conditions.Observe(env.Events, env.Clock)
	return &Fleet{env: env, actors: map[string]Actor{}}, nil
}

// Env returns the environment shared by the fleet's actors.
func (f *Fleet) Env() Env { return f.env }

// AddVehicle creates a bus or tram and registers its mailbox.
func (f *Fleet) AddVehicle(spec VehicleSpec) (*Vehicle, error) {
	if spec.Capacity <= 0 {
		spec.Capacity = DefaultCapacity(spec.Class)
	}
	v, err := newVehicle(spec, f.env)
	if err != nil {
		return nil, err
	}
	return v, f.add(v)
}

// AddStation creates a station.
func (f *Fleet) AddStation(spec StationSpec) (*Station, error) {
	s, err := newStation(spec, f.env)
	if err != nil {
		return nil, err
	}
	return s, f.add(s)
}

// AddCrew creates a maintenance crew.
func (f *Fleet) AddCrew(spec CrewSpec) (*Crew, error) {
	c, err := newCrew(spec, f.env)
	if err != nil {
		return nil, err
	}
	return c, f.add(c)
}

// DefaultCapacity returns the seat count of a vehicle class.
func DefaultCapacity(class model.VehicleClass) int {
	if class == model.ClassTram {
		return 40
	}
	return 60
}

func (f *Fleet) add(a Actor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.env.Bus.Unregister(a.ID())
		return ErrRunning
	}
	f.actors[a.ID()] = a
	f.order = append(f.order, a.ID())
	f.env.Directory.Add(a)
	return nil
}

// Run starts every actor and the pool's backlog scanner, and blocks until
// ctx is done or an actor fails.
func (f *Fleet) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return ErrRunning
	}
	f.running = true
	actors := make([]Actor, 0, len(f.order))
	for _, id := range f.order {
		actors = append(actors, f.actors[id])
	}
	f.mu.Unlock()

	f.env.Log.Infof("fleet starting with %d actors", len(actors))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f.env.Pool.Run(ctx)
		return nil
	})
	for _, a := range actors {
		a := a
		g.Go(func() error { return a.Run(ctx) })
	}
	err := g.Wait()
	f.env.Log.Infof("fleet stopped")
	return err
}

// Actor returns one actor by id.
func (f *Fleet) Actor(id string) (Actor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.actors[id]
	return a, ok
}

// Snapshot is the read-only view of every actor, sorted by id.
func (f *Fleet) Snapshot() []model.Snapshot { return f.env.Directory.Snapshots() }

// InjectBreakdown sends the same BREAKDOWN message the internal probability
// check would produce to an active vehicle. An empty fault is drawn by the
// vehicle.
func (f *Fleet) InjectBreakdown(ctx context.Context, vehicleID, fault string) error {
	a, ok := f.Actor(vehicleID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, vehicleID)
	}
	if _, ok := a.(*Vehicle); !ok {
		return fmt.Errorf("%w: %s", ErrNotVehicle, vehicleID)
	}
	if fault != "" {
		if _, ok := f.env.Faults.Lookup(fault); !ok {
			return fmt.Errorf("unknown fault %q", fault)
		}
	}
	if !a.Snapshot().Visible() {
		return fmt.Errorf("%w: %s", ErrInactive, vehicleID)
	}
	return f.env.Bus.Send(ctx, bus.New(bus.TypeBreakdown, bus.External, vehicleID, Breakdown{Fault: fault}))
}

// Deploy asks a vehicle parked at its base to leave immediately.
func (f *Fleet) Deploy(ctx context.Context, vehicleID string) error {
	a, ok := f.Actor(vehicleID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, vehicleID)
	}
	if _, ok := a.(*Vehicle); !ok {
		return fmt.Errorf("%w: %s", ErrNotVehicle, vehicleID)
	}
	return f.env.Bus.Send(ctx, bus.New(bus.TypeDeploy, bus.External, vehicleID, nil))
}

// SetWeather changes the weather read by every lifecycle loop.
func (f *Fleet) SetWeather(w Weather) error { return f.env.Conditions.SetWeather(w) }

// Surge raises passenger demand around loc for d.
func (f *Fleet) Surge(loc model.Cell, radius int, intensity float64, d time.Duration) {
	f.env.Conditions.AddSurge(loc, radius, intensity, d)
}

// Contract looks a contract up across every initiating actor.
func (f *Fleet) Contract(id string) (cnp.Contract, bool) {
	for _, a := range f.all() {
		if i, ok := a.(CanInitiateContract); ok {
			if c, ok := i.Contracts().Contract(id); ok {
				return c, true
			}
		}
	}
	return cnp.Contract{}, false
}

// Reservations maps each resource-holding actor to its pool jobs.
func (f *Fleet) Reservations() map[string][]string {
	out := map[string][]string{}
	for _, a := range f.all() {
		if r, ok := a.(CanReserveResources); ok {
			if jobs := r.HeldJobs(); len(jobs) > 0 {
				out[a.ID()] = jobs
			}
		}
	}
	return out
}

func (f *Fleet) all() []Actor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Actor, 0, len(f.actors))
	for _, a := range f.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
