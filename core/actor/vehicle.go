package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/monitoring"
)

// VehicleSpec describes a bus or tram at creation.
type VehicleSpec struct {
	ID       string
	Class    model.VehicleClass
	Position model.Cell
	Capacity int
	// Speed is in cells per tick.
	Speed float64
}

type service struct {
	contractID string
	station    string
	location   model.Cell
	seats      int
	arrived    bool
	arrivedAt  time.Time
}

type repair struct {
	fault      model.FaultClass
	contractID string
	crew       string
	cooldown   time.Time
}

// Vehicle is a bus or tram. It bids on capacity contracts from stations and
// initiates repair contracts when it breaks down.
type Vehicle struct {
	*runtime
	mover

	capacity  int
	load      int
	fuel      model.FuelState
	fuelLevel float64
	health    model.HealthState
	returning bool
	readyAt   time.Time
	patrol    *model.Cell

	serving *service
	repair  *repair

	initiator   *cnp.Initiator
	participant *cnp.Participant
}

func newVehicle(spec VehicleSpec, env Env) (*Vehicle, error) {
	if spec.Class == model.ClassNone || spec.Class == model.ClassService {
		return nil, fmt.Errorf("vehicle %s: class %s cannot carry passengers", spec.ID, spec.Class)
	}
	rt, err := newRuntime(spec.ID, model.RoleVehicle, env)
	if err != nil {
		return nil, err
	}
	if spec.Speed <= 0 {
		spec.Speed = 1
	}
	v := &Vehicle{
		runtime:   rt,
		mover:     mover{rt: rt, class: spec.Class, speed: spec.Speed, pos: spec.Position},
		capacity:  spec.Capacity,
		fuelLevel: env.Settings.FuelCapacity,
	}
	v.initiator = cnp.NewInitiator(spec.ID, env.Bus, env.Negotiation,
		cnp.WithLogger(rt.log), cnp.WithEmitter(env.Events), cnp.WithClock(env.Clock))
	v.participant = cnp.NewParticipant(spec.ID, env.Bus, v, rt.log)
	v.participant.SetClock(env.Clock)
	rt.out = v.initiator.Outcomes()
	rt.publish(v.snapshot())
	return v, nil
}

// Run implements Actor.
func (v *Vehicle) Run(ctx context.Context) error { return v.loop(ctx, v) }

// Class returns the traffic class of the vehicle.
func (v *Vehicle) Class() model.VehicleClass { return v.class }

// Contracts implements CanInitiateContract.
func (v *Vehicle) Contracts() *cnp.Initiator { return v.initiator }

// BidsOn implements CanBidOnContract.
func (v *Vehicle) BidsOn(kind string) bool { return kind == cnp.TaskCapacity }

// Eligible implements cnp.Bidder.
func (v *Vehicle) Eligible(cfp cnp.CallForProposals) bool {
	return cfp.Task.Kind == cnp.TaskCapacity && v.available() && v.capacity-v.load > 0
}

// Bid implements cnp.Bidder. ETA and cost grow with the grid distance to
// the station; bad weather slows the vehicle down.
func (v *Vehicle) Bid(cfp cnp.CallForProposals) cnp.Proposal {
	d := v.pos.Manhattan(cfp.Task.Location)
	speed := v.speed * v.env.Conditions.Effect().Speed
	eta := time.Duration(float64(d) / speed * float64(v.env.Settings.Tick))
	return cnp.Proposal{
		ETA:      eta,
		Capacity: v.capacity - v.load,
		Cost:     float64(d) * v.env.Settings.CostPerCell,
	}
}

func (v *Vehicle) available() bool {
	return v.fuel == model.Active && v.health == model.Operational && !v.returning &&
		v.serving == nil && v.fuelLevel > v.env.Settings.LowFuel
}

func (v *Vehicle) handle(ctx context.Context, msg bus.Message) {
	if ok, err := v.initiator.Handle(ctx, msg); ok {
		if err != nil {
			v.log.Debugf("%s from %s: %v", msg.Type, msg.Sender, err)
		}
		return
	}
	switch msg.Type {
	case bus.TypeCFP:
		if _, err := v.participant.HandleCFP(ctx, msg); err != nil {
			v.log.Warnf("cfp from %s: %v", msg.Sender, err)
		}
	case bus.TypeAccept:
		v.accept(ctx, msg)
	case bus.TypeReject:
		v.participant.HandleReject(msg)
	case bus.TypeCancel:
		id, _ := v.participant.HandleCancel(msg)
		if v.serving != nil && v.serving.contractID == id {
			v.log.Infof("service %s cancelled by %s", id, msg.Sender)
			v.serving = nil
		}
	case bus.TypeBoarded:
		v.boarded(ctx, msg)
	case bus.TypeBreakdown:
		b, _ := msg.Payload.(Breakdown)
		v.breakdown(ctx, b.Fault)
	case bus.TypeCrewArrived:
		a, _ := msg.Payload.(CrewArrival)
		v.crewArrived(a)
	case bus.TypeRepairComplete:
		d, _ := msg.Payload.(RepairDone)
		v.repaired(d)
	case bus.TypeDeploy:
		if v.fuel == model.AtBase {
			v.deploy()
		}
	default:
		v.log.Debugf("ignoring %s from %s", msg.Type, msg.Sender)
	}
}

func (v *Vehicle) tick(ctx context.Context, now time.Time) {
	if v.fuel == model.AtBase {
		if !now.Before(v.readyAt) {
			v.deploy()
		}
		return
	}
	if v.health != model.Operational {
		if v.repair != nil && v.repair.contractID == "" && !now.Before(v.repair.cooldown) {
			v.openRepair(ctx, v.repairTask())
		}
		return
	}
	p := v.env.Settings.BreakdownProbability * v.env.Conditions.Effect().Breakdown
	if p > 0 && v.env.Rand.Float64() < p {
		v.breakdown(ctx, "")
		return
	}
	if s := v.serving; s != nil && s.arrived && now.Sub(s.arrivedAt) > v.env.Negotiation.AckGrace {
		v.abandon(ctx, "no boarding reply")
	}
	if !v.returning && v.fuelLevel < v.env.Settings.LowFuel {
		v.returnToBase(ctx)
	}
	v.move(ctx)
}

func (v *Vehicle) move(ctx context.Context) {
	target, ok := v.target()
	if !ok {
		return
	}
	moved, arrived := v.advance(target, v.env.Conditions.Effect().Speed)
	v.fuelLevel -= float64(moved) * v.env.Settings.FuelPerStep
	if v.fuelLevel < 0 {
		v.fuelLevel = 0
	}
	if !arrived {
		return
	}
	switch {
	case v.returning:
		v.park()
	case v.serving != nil:
		v.atStation(ctx)
	default:
		v.patrol = nil
		v.load = 0
	}
}

func (v *Vehicle) target() (model.Cell, bool) {
	switch {
	case v.returning:
		return v.env.Bases[v.class.Base()].Entry, true
	case v.serving != nil:
		if v.serving.arrived {
			return model.Cell{}, false
		}
		return v.serving.location, true
	}
	if v.patrol == nil {
		s := v.env.Settings
		c := model.C(v.env.Rand.Intn(s.GridWidth), v.env.Rand.Intn(s.GridHeight))
		if v.class.IsRail() {
			// trams keep to their line
			c.Y = v.pos.Y
		}
		v.patrol = &c
	}
	return *v.patrol, true
}

func (v *Vehicle) accept(ctx context.Context, msg bus.Message) {
	if !v.available() {
		if err := v.participant.Decline(ctx, msg, "no longer available"); err != nil {
			v.log.Warnf("decline %s: %v", msg.CorrelationID, err)
		}
		return
	}
	award, err := v.participant.HandleAccept(ctx, msg)
	if err != nil {
		v.log.Warnf("accept %s: %v", msg.CorrelationID, err)
		return
	}
	v.serving = &service{
		contractID: award.ContractID,
		station:    award.Initiator,
		location:   award.Task.Location,
		seats:      award.Proposal.Capacity,
	}
	v.log.Infof("serving %s for contract %s", award.Initiator, award.ContractID)
}

func (v *Vehicle) atStation(ctx context.Context) {
	s := v.serving
	s.arrived = true
	s.arrivedAt = v.env.Clock()
	arrival := VehicleArrival{ContractID: s.contractID, Vehicle: v.id, Seats: v.capacity - v.load}
	if err := v.env.Bus.Send(ctx, bus.New(bus.TypeVehicleArrived, v.id, s.station, arrival).Correlate(s.contractID)); err != nil {
		v.abandon(ctx, "station unreachable")
	}
}

func (v *Vehicle) boarded(ctx context.Context, msg bus.Message) {
	b, _ := msg.Payload.(Boarding)
	if v.serving == nil || v.serving.contractID != msg.CorrelationID {
		v.log.Debugf("unexpected boarding from %s", msg.Sender)
		return
	}
	v.load += b.Passengers
	if v.load > v.capacity {
		v.load = v.capacity
	}
	id := v.serving.contractID
	v.serving = nil
	if err := v.participant.Complete(ctx, id, fmt.Sprintf("%d boarded", b.Passengers)); err != nil {
		v.log.Warnf("inform %s: %v", id, err)
	}
}

// abandon reports the current capacity contract as failed.
func (v *Vehicle) abandon(ctx context.Context, reason string) {
	if v.serving == nil {
		return
	}
	id := v.serving.contractID
	v.serving = nil
	if err := v.participant.Fail(ctx, id, reason); err != nil {
		v.log.Warnf("failure report %s: %v", id, err)
	}
}

func (v *Vehicle) returnToBase(ctx context.Context) {
	v.log.Infof("low fuel (%.1f), returning to base", v.fuelLevel)
	v.abandon(ctx, "low fuel")
	v.returning = true
	v.patrol = nil
}

func (v *Vehicle) park() {
	base := v.class.Base()
	if err := v.env.Depots.Park(base, v.id); err != nil {
		if errors.Is(err, ErrBaseFull) {
			v.log.Debugf("waiting at %s entry: %v", base, err)
			return
		}
		v.log.Errorf("park: %v", err)
		return
	}
	v.leaveGrid()
	v.returning = false
	v.load = 0
	v.fuelLevel = v.env.Settings.FuelCapacity
	v.readyAt = v.env.Clock().Add(v.env.Settings.RefuelTime)
	v.setFuel(model.AtBase)
}

func (v *Vehicle) deploy() {
	base := v.class.Base()
	v.env.Depots.Leave(base, v.id)
	v.pos = v.env.Bases[base].Entry
	v.heading = model.Heading{}
	v.patrol = nil
	v.setFuel(model.Active)
}

func (v *Vehicle) setFuel(to model.FuelState) {
	from := v.fuel
	v.fuel = to
	v.lifecycle(events.AxisFuel, from, to, "", v.pos)
}

func (v *Vehicle) setHealth(to model.HealthState) bool {
	if !v.health.CanTransition(to) {
		monitoring.Violation("vehicle", model.ErrHealthTransition{From: v.health, To: to})
		v.log.Errorf("%v", model.ErrHealthTransition{From: v.health, To: to})
		return false
	}
	from := v.health
	v.health = to
	fault := ""
	if v.repair != nil {
		fault = v.repair.fault.Name
	}
	v.lifecycle(events.AxisHealth, from, to, fault, v.pos)
	return true
}

// breakdown handles both the internal probability check and an injected
// BREAKDOWN message. An empty fault is drawn from the catalogue.
func (v *Vehicle) breakdown(ctx context.Context, fault string) {
	if v.fuel != model.Active || v.health != model.Operational {
		v.log.Debugf("breakdown ignored in %s/%s", v.fuel, v.health)
		return
	}
	var f model.FaultClass
	if fault == "" {
		f = v.env.Faults[v.env.Rand.Intn(len(v.env.Faults))]
	} else {
		var ok bool
		if f, ok = v.env.Faults.Lookup(fault); !ok {
			v.log.Warnf("unknown fault %q", fault)
			return
		}
	}
	v.repair = &repair{fault: f}
	v.setHealth(model.BrokenDown)
	v.hold()
	v.env.Traffic.MarkStalled(v.id)
	v.abandon(ctx, "breakdown")
	v.openRepair(ctx, v.repairTask())
}

func (v *Vehicle) repairTask() cnp.Task {
	f := v.repair.fault
	return cnp.Task{
		Kind:         cnp.TaskRepair,
		Location:     v.pos,
		Fault:        f.Name,
		Requirements: f.Requirements,
		Urgency:      f.Urgency,
		Floor:        v.env.Settings.Floor,
		Radius:       v.env.Settings.RepairRadius,
	}
}

func (v *Vehicle) openRepair(ctx context.Context, task cnp.Task) {
	candidates := v.env.Directory.Candidates(cnp.TaskRepair, v.pos, task.Radius, v.id)
	id, err := v.initiator.Open(ctx, task, candidates)
	if err != nil {
		v.log.Warnf("repair contract: %v", err)
		return
	}
	v.repair.contractID = id
	if v.health == model.BrokenDown {
		v.setHealth(model.AwaitingRepair)
	}
}

func (v *Vehicle) outcome(ctx context.Context, o cnp.Outcome) {
	if o.Task.Kind != cnp.TaskRepair || v.repair == nil || o.ContractID != v.repair.contractID {
		return
	}
	switch o.State {
	case cnp.Awarded:
		v.repair.crew = o.Winner
	case cnp.Failed, cnp.Aborted:
		if v.health != model.AwaitingRepair {
			return
		}
		v.repair.contractID = ""
		v.repair.crew = ""
		next, ok := v.env.Retry.Next(o.Task)
		if !ok {
			err := fmt.Errorf("repair of %s (%s) unsatisfied after %d attempts: %s", v.id, o.Task.Fault, o.Task.Attempt, o.Reason)
			v.log.Errorf("%v", err)
			monitoring.CaptureException(err, map[string]string{"component": "vehicle", "actor": v.id})
			v.repair.cooldown = v.env.Clock().Add(v.env.Settings.RepairCooldown)
			return
		}
		next.Location = v.pos
		v.openRepair(ctx, next)
	}
}

func (v *Vehicle) crewArrived(a CrewArrival) {
	if v.health != model.AwaitingRepair {
		v.log.Warnf("crew %s arrived while %s", a.Crew, v.health)
		return
	}
	if !v.assignedCrew(a.ContractID, a.Crew) {
		v.log.Warnf("crew %s arrived for stale contract %q", a.Crew, a.ContractID)
		return
	}
	v.repair.crew = a.Crew
	v.setHealth(model.UnderRepair)
}

func (v *Vehicle) repaired(d RepairDone) {
	if v.health != model.UnderRepair {
		return
	}
	if !v.assignedCrew(d.ContractID, d.Crew) {
		v.log.Warnf("repair report from %s for stale contract %q", d.Crew, d.ContractID)
		return
	}
	v.setHealth(model.Operational)
	v.repair = nil
	v.env.Traffic.Unstall(v.id)
}

// assignedCrew reports whether crew works on the live repair contract.
func (v *Vehicle) assignedCrew(contractID, crew string) bool {
	if v.repair == nil || v.repair.contractID == "" || v.repair.contractID != contractID {
		return false
	}
	return v.repair.crew == "" || v.repair.crew == crew
}

func (v *Vehicle) stop() {
	v.initiator.Close()
	v.leaveGrid()
}

func (v *Vehicle) snapshot() model.Snapshot {
	s := model.Snapshot{
		ID:        v.id,
		Role:      model.RoleVehicle,
		Class:     v.class,
		Position:  v.pos,
		Fuel:      v.fuel,
		Health:    v.health,
		FuelLevel: v.fuelLevel,
		Load:      v.load,
		Capacity:  v.capacity,
	}
	switch {
	case v.serving != nil:
		s.ContractID = v.serving.contractID
	case v.repair != nil:
		s.ContractID = v.repair.contractID
		s.Fault = v.repair.fault.Name
	}
	return s
}
