package actor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/logger"
	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/monitoring"
	"github.com/kilianp07/cityfleet/core/traffic"
)

// behaviour is what a concrete actor plugs into the shared loop. Every
// method runs on the actor's own goroutine.
type behaviour interface {
	handle(ctx context.Context, msg bus.Message)
	tick(ctx context.Context, now time.Time)
	outcome(ctx context.Context, o cnp.Outcome)
	stop()
	snapshot() model.Snapshot
}

// runtime is the part every actor shares: identity, mailbox and the
// published snapshot. Actor state is owned by the loop goroutine; other
// goroutines only see the last published snapshot.
type runtime struct {
	id   string
	role model.Role
	env  Env
	mb   *bus.Mailbox
	log  logger.Logger
	out  <-chan cnp.Outcome

	last atomic.Pointer[model.Snapshot]
}

func newRuntime(id string, role model.Role, env Env) (*runtime, error) {
	if id == "" {
		return nil, fmt.Errorf("%s without id", role)
	}
	mb, err := env.Bus.Register(id)
	if err != nil {
		return nil, err
	}
	return &runtime{
		id:   id,
		role: role,
		env:  env,
		mb:   mb,
		log:  env.Log.With(map[string]any{"actor": id, "role": role.String()}),
	}, nil
}

// ID implements Actor.
func (r *runtime) ID() string { return r.id }

// Role implements Actor.
func (r *runtime) Role() model.Role { return r.role }

// Snapshot implements Actor.
func (r *runtime) Snapshot() model.Snapshot {
	if s := r.last.Load(); s != nil {
		return *s
	}
	return model.Snapshot{ID: r.id, Role: r.role}
}

func (r *runtime) publish(s model.Snapshot) {
	s.UpdatedAt = r.env.Clock()
	r.last.Store(&s)
	r.env.Directory.Update(s)
}

// loop drives b until ctx is done. It returns nil on cancellation and an
// error only when the mailbox is closed underneath the actor.
func (r *runtime) loop(ctx context.Context, b behaviour) error {
	defer monitoring.Guard(r.role.String(), r.id)
	defer b.stop()

	t := time.NewTicker(r.env.Settings.Tick)
	defer t.Stop()
	out := r.out
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-r.mb.C():
			if !ok {
				return fmt.Errorf("%s: %w", r.id, bus.ErrMailboxClosed)
			}
			b.handle(ctx, msg)
		case o, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			b.outcome(ctx, o)
		case <-t.C:
			b.tick(ctx, r.env.Clock())
		}
		r.publish(b.snapshot())
	}
}

func (r *runtime) lifecycle(axis string, from, to fmt.Stringer, fault string, pos model.Cell) {
	r.log.Infof("%s %s -> %s", axis, from, to)
	r.env.Events.Publish(events.LifecycleEvent{
		ActorID:  r.id,
		Role:     r.role.String(),
		Axis:     axis,
		From:     from.String(),
		To:       to.String(),
		Fault:    fault,
		Position: pos.String(),
		Time:     r.env.Clock(),
	})
}

// mover advances an actor along the grid one cell at a time, holding its
// cell in the traffic coordinator.
type mover struct {
	rt       *runtime
	class    model.VehicleClass
	speed    float64
	pos      model.Cell
	heading  model.Heading
	progress float64
	holding  bool
	// prev is the cell left by the last move; detoured is set while the
	// vehicle is going around an obstruction.
	prev     model.Cell
	detoured bool
}

// advance accumulates speed and steps toward target. It returns the number
// of cells moved and whether target was reached.
func (m *mover) advance(target model.Cell, factor float64) (int, bool) {
	if m.pos == target {
		m.progress = 0
		return 0, true
	}
	m.progress += m.speed * factor
	moved := 0
	for m.progress >= 1 {
		moves := m.route(target)
		if len(moves) == 0 {
			break
		}
		granted := false
		for _, mv := range moves {
			res, err := m.rt.env.Traffic.RequestOccupancy(traffic.Request{VehicleID: m.rt.id, Class: m.class, Cell: mv.To, Heading: mv.Heading})
			if err != nil {
				m.rt.log.Warnf("occupancy %s: %v", mv.To, err)
				m.progress = 0
				return moved, false
			}
			if !res.Granted {
				continue
			}
			step, _ := m.pos.Step(target)
			m.detoured = mv.To != step
			if m.detoured {
				m.rt.log.Debugf("detour via %s toward %s", mv.To, target)
			}
			m.release()
			m.prev = m.pos
			m.pos, m.heading, m.holding = mv.To, mv.Heading, true
			granted = true
			break
		}
		if !granted {
			// wait at the current cell; keep at most one step of credit
			m.progress = 1
			return moved, false
		}
		m.progress--
		moved++
	}
	return moved, m.pos == target
}

// route lists the moves to try toward target in order. Rail vehicles only
// take the greedy step. Road vehicles also consider detours, put a step into
// a cell held by a stalled vehicle last and do not turn back while going
// around one.
func (m *mover) route(target model.Cell) []model.Move {
	next, h := m.pos.Step(target)
	if h.IsZero() {
		return nil
	}
	greedy := model.Move{To: next, Heading: h}
	if m.class.IsRail() {
		return []model.Move{greedy}
	}
	moves := []model.Move{greedy}
	for _, mv := range m.pos.Detours(target) {
		if m.inGrid(mv.To) && !m.rt.env.Traffic.Obstructed(mv.To, m.rt.id) {
			moves = append(moves, mv)
		}
	}
	if len(moves) > 1 && next != target && m.rt.env.Traffic.Obstructed(next, m.rt.id) {
		// go around; the blocked step is the last resort
		moves = append(moves[1:], greedy)
	}
	if m.detoured {
		onward := moves[:0:0]
		for _, mv := range moves {
			if mv.To != m.prev {
				onward = append(onward, mv)
			}
		}
		if len(onward) > 0 {
			return onward
		}
	}
	return moves
}

func (m *mover) inGrid(c model.Cell) bool {
	s := m.rt.env.Settings
	if s.GridWidth <= 0 || s.GridHeight <= 0 {
		return true
	}
	return c.X >= 0 && c.Y >= 0 && c.X < s.GridWidth && c.Y < s.GridHeight
}

// hold claims the current cell, used when a vehicle stalls in place.
func (m *mover) hold() {
	if m.holding || m.heading.IsZero() {
		return
	}
	res, err := m.rt.env.Traffic.RequestOccupancy(traffic.Request{VehicleID: m.rt.id, Class: m.class, Cell: m.pos, Heading: m.heading})
	if err == nil && res.Granted {
		m.holding = true
	}
}

func (m *mover) release() {
	if !m.holding {
		return
	}
	if err := m.rt.env.Traffic.ReleaseOccupancy(m.rt.id, m.pos); err != nil {
		m.rt.log.Warnf("release %s: %v", m.pos, err)
	}
	m.holding = false
}

func (m *mover) leaveGrid() {
	m.rt.env.Traffic.ReleaseAll(m.rt.id)
	m.holding = false
	m.progress = 0
	m.detoured = false
}
