package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/pool"
	"github.com/kilianp07/cityfleet/core/traffic"
)

// world is a small fast-ticking simulation.
type world struct {
	t       *testing.T
	fleet   *Fleet
	rec     *events.MemoryRecorder
	bus     *bus.Bus
	pool    *pool.Pool
	traffic *traffic.Coordinator
	ctx     context.Context
}

func fastFaults() model.FaultCatalog {
	return model.FaultCatalog{
		{Name: "tire", Requirements: map[string]int{model.ResourceTools: 2}, Repair: 20 * time.Millisecond, Urgency: 1},
		{Name: "engine", Requirements: map[string]int{model.ResourceTools: 5}, Repair: 30 * time.Millisecond, Urgency: 3},
		{Name: "tow", Requirements: map[string]int{model.ResourceTowHooks: 1}, Repair: 20 * time.Millisecond, Urgency: 2},
	}
}

func newWorld(t *testing.T, tweak func(*Env)) *world {
	t.Helper()
	rec := &events.MemoryRecorder{}
	b := bus.NewBus(bus.Config{Attempts: 3, Interval: 5 * time.Millisecond, MailboxSize: 64}, bus.WithEmitter(rec))
	p := pool.New(map[string]int{model.ResourceTools: 8, model.ResourceTowHooks: 2}, pool.DefaultConfig(),
		pool.WithEmitter(rec), pool.WithNotifier(pool.BusNotifier{Bus: b, ID: "pool"}))
	tc := traffic.NewCoordinator(traffic.WithEmitter(rec))

	s := DefaultSettings()
	s.Tick = 5 * time.Millisecond
	s.BreakdownProbability = 0
	s.RefuelTime = 20 * time.Millisecond
	s.RepairCooldown = time.Hour
	neg := cnp.DefaultConfig()
	neg.Window = 30 * time.Millisecond
	neg.AckGrace = 200 * time.Millisecond
	neg.ExecutionTimeout = 5 * time.Second

	env := Env{
		Bus:         b,
		Pool:        p,
		Traffic:     tc,
		Settings:    s,
		Negotiation: neg,
		Faults:      fastFaults(),
		Rand:        &ScriptedRand{},
		Events:      rec,
	}
	if tweak != nil {
		tweak(&env)
	}
	f, err := NewFleet(env)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return &world{t: t, fleet: f, rec: rec, bus: b, pool: p, traffic: tc, ctx: context.Background()}
}

// start runs the fleet until the test ends.
func (w *world) start() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.fleet.Run(ctx) }()
	w.ctx = ctx
	w.t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(w.t, err)
		case <-time.After(2 * time.Second):
			w.t.Error("fleet did not stop")
		}
	})
}

// transitions returns the lifecycle transitions of one actor on one axis.
func (w *world) transitions(id, axis string) []string {
	var out []string
	for _, e := range w.rec.Events() {
		if le, ok := e.(events.LifecycleEvent); ok && le.ActorID == id && le.Axis == axis {
			out = append(out, le.To)
		}
	}
	return out
}

func (w *world) contracts(initiator, state string) []events.ContractEvent {
	var out []events.ContractEvent
	for _, ce := range w.rec.Contracts("") {
		if ce.Initiator == initiator && ce.State == state {
			out = append(out, ce)
		}
	}
	return out
}
