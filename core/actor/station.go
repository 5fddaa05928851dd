package actor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/model"
)

// StationSpec describes a stop at creation.
type StationSpec struct {
	ID       string
	Position model.Cell
	// ArrivalRate is passengers per tick before surge multipliers.
	ArrivalRate float64
	// Threshold is the queue length that triggers a capacity contract.
	Threshold int
	MaxQueue  int
}

// Station accumulates waiting passengers and opens capacity contracts when
// overcrowded.
type Station struct {
	*runtime

	pos       model.Cell
	rate      float64
	threshold int
	maxQueue  int
	waiting   float64
	served    atomic.Int64
	contract  string

	limiter   *rate.Limiter
	initiator *cnp.Initiator
}

func newStation(spec StationSpec, env Env) (*Station, error) {
	rt, err := newRuntime(spec.ID, model.RoleStation, env)
	if err != nil {
		return nil, err
	}
	if spec.Threshold <= 0 {
		spec.Threshold = 20
	}
	if spec.MaxQueue <= 0 {
		spec.MaxQueue = 100
	}
	interval := env.Settings.StationCFPInterval
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	s := &Station{
		runtime:   rt,
		pos:       spec.Position,
		rate:      spec.ArrivalRate,
		threshold: spec.Threshold,
		maxQueue:  spec.MaxQueue,
		limiter:   rate.NewLimiter(limit, 1),
	}
	s.initiator = cnp.NewInitiator(spec.ID, env.Bus, env.Negotiation,
		cnp.WithLogger(rt.log), cnp.WithEmitter(env.Events), cnp.WithClock(env.Clock))
	rt.out = s.initiator.Outcomes()
	rt.publish(s.snapshot())
	return s, nil
}

// Run implements Actor.
func (s *Station) Run(ctx context.Context) error { return s.loop(ctx, s) }

// Contracts implements CanInitiateContract.
func (s *Station) Contracts() *cnp.Initiator { return s.initiator }

// Served returns the number of passengers that boarded at the station.
func (s *Station) Served() int { return int(s.served.Load()) }

func (s *Station) handle(ctx context.Context, msg bus.Message) {
	if ok, err := s.initiator.Handle(ctx, msg); ok {
		if err != nil {
			s.log.Debugf("%s from %s: %v", msg.Type, msg.Sender, err)
		}
		return
	}
	switch msg.Type {
	case bus.TypeVehicleArrived:
		s.board(ctx, msg)
	default:
		s.log.Debugf("ignoring %s from %s", msg.Type, msg.Sender)
	}
}

func (s *Station) board(ctx context.Context, msg bus.Message) {
	a, _ := msg.Payload.(VehicleArrival)
	n := int(s.waiting)
	if a.Seats < n {
		n = a.Seats
	}
	if n < 0 {
		n = 0
	}
	s.waiting -= float64(n)
	s.served.Add(int64(n))
	reply := bus.New(bus.TypeBoarded, s.id, msg.Sender, Boarding{Station: s.id, Passengers: n}).Correlate(msg.CorrelationID)
	if err := s.env.Bus.Send(ctx, reply); err != nil {
		s.log.Warnf("boarding reply to %s: %v", msg.Sender, err)
	}
	s.log.Debugf("%d passengers boarded %s, %.0f waiting", n, msg.Sender, s.waiting)
}

func (s *Station) tick(ctx context.Context, now time.Time) {
	s.waiting += s.rate * s.env.Conditions.DemandMultiplier(s.pos)
	if s.waiting > float64(s.maxQueue) {
		s.waiting = float64(s.maxQueue)
	}
	if int(s.waiting) < s.threshold || s.contract != "" {
		return
	}
	if !s.limiter.AllowN(now, 1) {
		return
	}
	s.open(ctx, s.task())
}

func (s *Station) task() cnp.Task {
	radius := s.env.Settings.CandidateRadius
	if s.env.Conditions.Surging(s.pos) {
		radius += s.env.Settings.SurgeRadiusBonus
	}
	return cnp.Task{
		Kind:     cnp.TaskCapacity,
		Location: s.pos,
		Capacity: int(s.waiting),
		Floor:    s.env.Settings.Floor,
		Radius:   radius,
	}
}

func (s *Station) open(ctx context.Context, task cnp.Task) {
	candidates := s.env.Directory.Candidates(cnp.TaskCapacity, s.pos, task.Radius, s.id)
	id, err := s.initiator.Open(ctx, task, candidates)
	if err != nil {
		if !errors.Is(err, cnp.ErrContractOpen) {
			s.log.Warnf("capacity contract: %v", err)
		}
		return
	}
	s.contract = id
}

func (s *Station) outcome(ctx context.Context, o cnp.Outcome) {
	if o.ContractID != s.contract {
		return
	}
	switch o.State {
	case cnp.Done:
		s.contract = ""
	case cnp.Failed, cnp.Aborted:
		s.contract = ""
		if int(s.waiting) < s.threshold {
			return
		}
		next, ok := s.env.Retry.Next(o.Task)
		if !ok {
			s.log.Errorf("capacity for %.0f passengers unsatisfied after %d attempts: %s", s.waiting, o.Task.Attempt, o.Reason)
			return
		}
		next.Capacity = int(s.waiting)
		s.open(ctx, next)
	}
}

func (s *Station) stop() { s.initiator.Close() }

func (s *Station) snapshot() model.Snapshot {
	return model.Snapshot{
		ID:         s.id,
		Role:       model.RoleStation,
		Position:   s.pos,
		ContractID: s.contract,
		Load:       int(s.waiting),
		Capacity:   s.maxQueue,
	}
}
