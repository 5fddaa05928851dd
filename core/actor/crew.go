package actor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/pool"
)

// CrewSpec describes a maintenance crew at creation. A zero position puts
// the crew at the maintenance base entry.
type CrewSpec struct {
	ID       string
	Position *model.Cell
	Speed    float64
}

type phase int

const (
	crewIdle phase = iota
	crewWaiting
	crewEnRoute
	crewRepairing
	crewReturning
)

func (p phase) String() string {
	return [...]string{"idle", "waiting", "en_route", "repairing", "returning"}[p]
}

type job struct {
	contractID string
	vehicle    string
	location   model.Cell
	fault      model.FaultClass
	doneAt     time.Time
	holding    bool
}

// Crew bids on repair contracts, reserves tools from the pool, drives to the
// broken vehicle and repairs it.
type Crew struct {
	*runtime
	mover

	phase phase
	job   *job
	held  atomic.Pointer[[]string]

	participant *cnp.Participant
}

func newCrew(spec CrewSpec, env Env) (*Crew, error) {
	rt, err := newRuntime(spec.ID, model.RoleCrew, env)
	if err != nil {
		return nil, err
	}
	pos := env.Bases[model.BaseMaintenance].Entry
	if spec.Position != nil {
		pos = *spec.Position
	}
	if spec.Speed <= 0 {
		spec.Speed = 1
	}
	c := &Crew{
		runtime: rt,
		mover:   mover{rt: rt, class: model.ClassService, speed: spec.Speed, pos: pos},
	}
	c.participant = cnp.NewParticipant(spec.ID, env.Bus, c, rt.log)
	c.participant.SetClock(env.Clock)
	c.held.Store(&[]string{})
	rt.publish(c.snapshot())
	return c, nil
}

// Run implements Actor.
func (c *Crew) Run(ctx context.Context) error { return c.loop(ctx, c) }

// BidsOn implements CanBidOnContract.
func (c *Crew) BidsOn(kind string) bool { return kind == cnp.TaskRepair }

// HeldJobs implements CanReserveResources.
func (c *Crew) HeldJobs() []string { return append([]string(nil), *c.held.Load()...) }

// Eligible implements cnp.Bidder. A crew bids while idle or on its way back
// to base, and only for faults it knows how to fix.
func (c *Crew) Eligible(cfp cnp.CallForProposals) bool {
	if cfp.Task.Kind != cnp.TaskRepair || (c.phase != crewIdle && c.phase != crewReturning) {
		return false
	}
	_, ok := c.env.Faults.Lookup(cfp.Task.Fault)
	return ok
}

// Bid implements cnp.Bidder.
func (c *Crew) Bid(cfp cnp.CallForProposals) cnp.Proposal {
	d := c.pos.Manhattan(cfp.Task.Location)
	speed := c.speed * c.env.Conditions.Effect().Speed
	return cnp.Proposal{
		ETA:      time.Duration(float64(d) / speed * float64(c.env.Settings.Tick)),
		Capacity: 1,
		Cost:     float64(d) * c.env.Settings.CostPerCell,
	}
}

func (c *Crew) handle(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.TypeCFP:
		if _, err := c.participant.HandleCFP(ctx, msg); err != nil {
			c.log.Warnf("cfp from %s: %v", msg.Sender, err)
		}
	case bus.TypeAccept:
		c.accept(ctx, msg)
	case bus.TypeReject:
		c.participant.HandleReject(msg)
	case bus.TypeCancel:
		id, _ := c.participant.HandleCancel(msg)
		if c.job != nil && c.job.contractID == id && c.job.vehicle == msg.Sender {
			c.log.Infof("%s cancelled by %s", id, msg.Sender)
			c.releaseJob()
			c.job = nil
			c.setPhase(crewReturning)
		}
	case bus.TypeResourceGranted:
		if c.job != nil && c.phase == crewWaiting && msg.CorrelationID == c.job.contractID {
			c.job.holding = true
			c.setPhase(crewEnRoute)
		}
	case bus.TypeResourceExpired:
		if c.job != nil && c.phase == crewWaiting && msg.CorrelationID == c.job.contractID {
			e, _ := msg.Payload.(pool.Expiry)
			c.giveUp(ctx, "resources unavailable: "+e.Reason)
		}
	default:
		c.log.Debugf("ignoring %s from %s", msg.Type, msg.Sender)
	}
}

func (c *Crew) accept(ctx context.Context, msg bus.Message) {
	award, ok := msg.Payload.(cnp.Award)
	if !ok || (c.phase != crewIdle && c.phase != crewReturning) {
		if err := c.participant.Decline(ctx, msg, "crew busy"); err != nil {
			c.log.Warnf("decline %s: %v", msg.CorrelationID, err)
		}
		return
	}
	f, ok := c.env.Faults.Lookup(award.Task.Fault)
	if !ok {
		_ = c.participant.Decline(ctx, msg, "unknown fault "+award.Task.Fault)
		return
	}
	if _, err := c.participant.HandleAccept(ctx, msg); err != nil {
		c.log.Warnf("accept %s: %v", award.ContractID, err)
		return
	}
	c.job = &job{contractID: award.ContractID, vehicle: award.Initiator, location: award.Task.Location, fault: f}
	c.setHeld(award.ContractID)
	st, err := c.env.Pool.Reserve(pool.Request{
		JobID:        award.ContractID,
		Owner:        c.id,
		Requirements: f.Requirements,
		Urgency:      f.Urgency,
		Distance:     float64(c.pos.Manhattan(award.Task.Location)),
	})
	if err != nil {
		c.giveUp(ctx, fmt.Sprintf("reserve: %v", err))
		return
	}
	if st == pool.Granted {
		c.job.holding = true
		c.setPhase(crewEnRoute)
		return
	}
	c.setPhase(crewWaiting)
}

func (c *Crew) tick(ctx context.Context, now time.Time) {
	switch c.phase {
	case crewEnRoute:
		if _, arrived := c.advance(c.job.location, c.env.Conditions.Effect().Speed); arrived {
			c.arrive(ctx, now)
		}
	case crewRepairing:
		if !now.Before(c.job.doneAt) {
			c.finish(ctx)
		}
	case crewReturning:
		if _, arrived := c.advance(c.env.Bases[model.BaseMaintenance].Entry, 1); arrived {
			c.leaveGrid()
			c.setPhase(crewIdle)
		}
	}
}

func (c *Crew) arrive(ctx context.Context, now time.Time) {
	j := c.job
	msg := bus.New(bus.TypeCrewArrived, c.id, j.vehicle, CrewArrival{ContractID: j.contractID, Crew: c.id}).Correlate(j.contractID)
	if err := c.env.Bus.Send(ctx, msg); err != nil {
		c.giveUp(ctx, "vehicle unreachable")
		return
	}
	j.doneAt = now.Add(j.fault.Repair)
	c.setPhase(crewRepairing)
}

func (c *Crew) finish(ctx context.Context) {
	j := c.job
	done := bus.New(bus.TypeRepairComplete, c.id, j.vehicle, RepairDone{ContractID: j.contractID, Crew: c.id, Fault: j.fault.Name}).Correlate(j.contractID)
	if err := c.env.Bus.Send(ctx, done); err != nil {
		c.log.Warnf("repair complete to %s: %v", j.vehicle, err)
	}
	c.releaseJob()
	if err := c.participant.Complete(ctx, j.contractID, j.fault.Name+" repaired"); err != nil {
		c.log.Warnf("inform %s: %v", j.contractID, err)
	}
	c.job = nil
	c.setPhase(crewReturning)
}

// giveUp reports the contract as failed and frees anything held for it.
func (c *Crew) giveUp(ctx context.Context, reason string) {
	j := c.job
	c.log.Warnf("abandoning %s: %s", j.contractID, reason)
	c.releaseJob()
	if err := c.participant.Fail(ctx, j.contractID, reason); err != nil {
		c.log.Warnf("failure report %s: %v", j.contractID, err)
	}
	c.job = nil
	c.setPhase(crewReturning)
}

func (c *Crew) releaseJob() {
	j := c.job
	if j == nil {
		return
	}
	var err error
	if j.holding {
		err = c.env.Pool.Release(j.contractID)
	} else {
		err = c.env.Pool.Cancel(j.contractID)
	}
	if err != nil {
		c.log.Debugf("pool cleanup for %s: %v", j.contractID, err)
	}
	j.holding = false
	c.setHeld()
}

func (c *Crew) setPhase(p phase) {
	if c.phase != p {
		c.log.Debugf("%s -> %s", c.phase, p)
	}
	c.phase = p
}

func (c *Crew) setHeld(ids ...string) {
	c.held.Store(&ids)
}

// outcome is a no-op: crews never initiate contracts.
func (c *Crew) outcome(context.Context, cnp.Outcome) {}

func (c *Crew) stop() {
	c.releaseJob()
	c.leaveGrid()
}

func (c *Crew) snapshot() model.Snapshot {
	s := model.Snapshot{
		ID:       c.id,
		Role:     model.RoleCrew,
		Class:    model.ClassService,
		Position: c.pos,
		Fuel:     model.Active,
		Health:   model.Operational,
	}
	if c.job != nil {
		s.ContractID = c.job.contractID
		s.Fault = c.job.fault.Name
	}
	return s
}
