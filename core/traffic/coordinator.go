// Package traffic arbitrates track segment occupancy. Rail vehicles exclude
// followers in the same direction class; road vehicles always pass.
package traffic

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/logger"
	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/monitoring"
)

// Reason explains a refused occupancy request.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonOccupied: a moving vehicle holds the direction class.
	ReasonOccupied
	// ReasonRailBlocked: a stalled rail vehicle holds the direction class
	// until it is repaired.
	ReasonRailBlocked
)

func (r Reason) String() string {
	switch r {
	case ReasonOccupied:
		return "occupied"
	case ReasonRailBlocked:
		return "rail blocked"
	default:
		return "none"
	}
}

// Request asks to enter a cell along a heading.
type Request struct {
	VehicleID string
	Class     model.VehicleClass
	Cell      model.Cell
	Heading   model.Heading
}

// Result is the answer to a Request.
type Result struct {
	Granted   bool
	Reason    Reason
	BlockedBy string
	Segment   Segment
	Direction Direction
}

// Status summarises current occupancy.
type Status struct {
	OccupiedSegments int
	VehiclesByClass  map[string]int
	BlockedRails     int
	Waiting          int
	Stalled          []string
}

type waitKey struct {
	seg Segment
	dir Direction
}

type segState struct {
	exclusive map[Direction]string
	shared    map[string]Direction
}

func (s *segState) empty() bool { return len(s.exclusive) == 0 && len(s.shared) == 0 }

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithLogger(l logger.Logger) Option     { return func(c *Coordinator) { c.log = l } }
func WithEmitter(e events.Emitter) Option   { return func(c *Coordinator) { c.events = e } }
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithPolicy overrides the policy applied to a vehicle class.
func WithPolicy(class model.VehicleClass, p Policy) Option {
	return func(c *Coordinator) { c.policies[class] = p }
}

// Coordinator owns the occupancy map. All methods are safe for concurrent use.
type Coordinator struct {
	log      logger.Logger
	events   events.Emitter
	now      func() time.Time
	policies map[model.VehicleClass]Policy

	mu       sync.Mutex
	segments map[Segment]*segState
	holdings map[string]map[Segment]Direction
	classes  map[string]model.VehicleClass
	stalled  map[string]bool
	waiters  map[waitKey]map[string]bool
}

// NewCoordinator creates a coordinator with DefaultPolicies.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		log:      logger.NopLogger{},
		events:   events.NopEmitter{},
		now:      time.Now,
		policies: DefaultPolicies(),
		segments: make(map[Segment]*segState),
		holdings: make(map[string]map[Segment]Direction),
		classes:  make(map[string]model.VehicleClass),
		stalled:  make(map[string]bool),
		waiters:  make(map[waitKey]map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestOccupancy grants or refuses entry to req.Cell. Re-requesting a held
// segment in the same direction is granted again.
func (c *Coordinator) RequestOccupancy(req Request) (Result, error) {
	pol, ok := c.policies[req.Class]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoPolicy, req.Class)
	}
	seg, dir, err := Classify(req.Cell, req.Heading)
	if err != nil {
		return Result{}, err
	}
	res := Result{Segment: seg, Direction: dir}

	c.mu.Lock()
	c.classes[req.VehicleID] = req.Class
	var turned []freedSlot
	if prev, held := c.holdings[req.VehicleID][seg]; held && prev != dir {
		turned = c.releaseLocked(req.VehicleID, seg)
	}
	st := c.segments[seg]
	if st == nil {
		st = &segState{exclusive: map[Direction]string{}, shared: map[string]Direction{}}
		c.segments[seg] = st
	}

	if pol.Exclusive() {
		if holder, taken := st.exclusive[dir]; taken && holder != req.VehicleID {
			res.BlockedBy = holder
			res.Reason = ReasonOccupied
			if c.stalled[holder] {
				res.Reason = ReasonRailBlocked
			}
			key := waitKey{seg, dir}
			if c.waiters[key] == nil {
				c.waiters[key] = map[string]bool{}
			}
			fresh := !c.waiters[key][req.VehicleID]
			c.waiters[key][req.VehicleID] = true
			c.mu.Unlock()
			c.publishRelease(req.VehicleID, req.Class, turned)
			if fresh {
				action := events.OccupancyBlocked
				if res.Reason == ReasonRailBlocked {
					action = events.OccupancyRailBlocked
				}
				c.log.Debugf("%s blocked at %s by %s (%s)", req.VehicleID, seg, holder, res.Reason)
				c.emit(req.VehicleID, req.Class, seg, dir, action, holder)
			}
			return res, nil
		}
		st.exclusive[dir] = req.VehicleID
	} else {
		st.shared[req.VehicleID] = dir
	}
	if c.holdings[req.VehicleID] == nil {
		c.holdings[req.VehicleID] = map[Segment]Direction{}
	}
	c.holdings[req.VehicleID][seg] = dir
	c.withdrawLocked(req.VehicleID)
	c.mu.Unlock()

	c.publishRelease(req.VehicleID, req.Class, turned)
	res.Granted = true
	c.emit(req.VehicleID, req.Class, seg, dir, events.OccupancyGranted, "")
	return res, nil
}

// ReleaseOccupancy frees every segment the vehicle holds on cell.
func (c *Coordinator) ReleaseOccupancy(vehicleID string, cell model.Cell) error {
	c.mu.Lock()
	var segs []Segment
	for seg := range c.holdings[vehicleID] {
		if seg.Cell == cell {
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		c.mu.Unlock()
		err := fmt.Errorf("%w: %s at %s", ErrNotOccupant, vehicleID, cell)
		monitoring.Violation("traffic", err)
		return err
	}
	var freed []freedSlot
	for _, seg := range segs {
		freed = append(freed, c.releaseLocked(vehicleID, seg)...)
	}
	class := c.classes[vehicleID]
	c.mu.Unlock()

	c.publishRelease(vehicleID, class, freed)
	return nil
}

// ReleaseAll frees everything the vehicle holds and forgets its waits. It
// returns the number of released segments.
func (c *Coordinator) ReleaseAll(vehicleID string) int {
	c.mu.Lock()
	var freed []freedSlot
	n := 0
	for seg := range c.holdings[vehicleID] {
		freed = append(freed, c.releaseLocked(vehicleID, seg)...)
		n++
	}
	c.withdrawLocked(vehicleID)
	class := c.classes[vehicleID]
	c.mu.Unlock()

	c.publishRelease(vehicleID, class, freed)
	return n
}

// MarkStalled flags a broken vehicle. Its segments stay held and followers
// see ReasonRailBlocked until Unstall.
func (c *Coordinator) MarkStalled(vehicleID string) {
	c.mu.Lock()
	c.stalled[vehicleID] = true
	c.mu.Unlock()
	c.log.Infof("%s stalled", vehicleID)
}

// Unstall clears the stalled flag after a repair.
func (c *Coordinator) Unstall(vehicleID string) {
	c.mu.Lock()
	delete(c.stalled, vehicleID)
	c.mu.Unlock()
}

// Obstructed reports whether a stalled vehicle other than self holds a
// segment on cell.
func (c *Coordinator) Obstructed(cell model.Cell, self string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.stalled {
		if id == self {
			continue
		}
		for seg := range c.holdings[id] {
			if seg.Cell == cell {
				return true
			}
		}
	}
	return false
}

// Holder returns the exclusive occupant of a direction class, if any.
func (c *Coordinator) Holder(seg Segment, dir Direction) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.segments[seg]
	if st == nil {
		return "", false
	}
	id, ok := st.exclusive[dir]
	return id, ok
}

// Occupants returns every vehicle holding a segment on cell, sorted.
func (c *Coordinator) Occupants(cell model.Cell) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[string]bool{}
	for seg, st := range c.segments {
		if seg.Cell != cell {
			continue
		}
		for _, id := range st.exclusive {
			seen[id] = true
		}
		for id := range st.shared {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Status returns occupancy counters.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{VehiclesByClass: map[string]int{}}
	for _, st := range c.segments {
		if st.empty() {
			continue
		}
		s.OccupiedSegments++
		for _, id := range st.exclusive {
			if c.stalled[id] {
				s.BlockedRails++
			}
		}
	}
	for id, held := range c.holdings {
		if len(held) > 0 {
			s.VehiclesByClass[c.classes[id].String()]++
		}
	}
	for _, w := range c.waiters {
		s.Waiting += len(w)
	}
	for id := range c.stalled {
		s.Stalled = append(s.Stalled, id)
	}
	sort.Strings(s.Stalled)
	return s
}

type freedSlot struct {
	seg     Segment
	dir     Direction
	waiters []string
	classes []model.VehicleClass
}

func (c *Coordinator) releaseLocked(vehicleID string, seg Segment) []freedSlot {
	dir := c.holdings[vehicleID][seg]
	delete(c.holdings[vehicleID], seg)
	if len(c.holdings[vehicleID]) == 0 {
		delete(c.holdings, vehicleID)
	}
	st := c.segments[seg]
	if st == nil {
		return nil
	}
	delete(st.shared, vehicleID)
	var out []freedSlot
	if st.exclusive[dir] == vehicleID {
		delete(st.exclusive, dir)
		key := waitKey{seg, dir}
		f := freedSlot{seg: seg, dir: dir}
		for id := range c.waiters[key] {
			f.waiters = append(f.waiters, id)
		}
		sort.Strings(f.waiters)
		for _, id := range f.waiters {
			f.classes = append(f.classes, c.classes[id])
		}
		delete(c.waiters, key)
		out = append(out, f)
	} else {
		out = append(out, freedSlot{seg: seg, dir: dir})
	}
	if st.empty() {
		delete(c.segments, seg)
	}
	return out
}

func (c *Coordinator) withdrawLocked(vehicleID string) {
	for key, w := range c.waiters {
		delete(w, vehicleID)
		if len(w) == 0 {
			delete(c.waiters, key)
		}
	}
}

func (c *Coordinator) publishRelease(vehicleID string, class model.VehicleClass, freed []freedSlot) {
	for _, f := range freed {
		c.emit(vehicleID, class, f.seg, f.dir, events.OccupancyReleased, "")
		for i, w := range f.waiters {
			c.emit(w, f.classes[i], f.seg, f.dir, events.OccupancyUnblocked, vehicleID)
		}
	}
}

func (c *Coordinator) emit(id string, class model.VehicleClass, seg Segment, dir Direction, action, by string) {
	c.events.Publish(events.OccupancyEvent{
		VehicleID: id,
		Class:     class.String(),
		Segment:   seg.String(),
		Direction: dir.String(),
		Action:    action,
		BlockedBy: by,
		Time:      c.now(),
	})
}
