package actor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/traffic"
)

func TestInjectedBreakdownIsRepaired(t *testing.T) {
	w := newWorld(t, nil)
	_, err := w.fleet.AddVehicle(VehicleSpec{ID: "bus-1", Class: model.ClassBus, Position: model.C(3, 3)})
	require.NoError(t, err)
	crewPos := model.C(4, 3)
	_, err = w.fleet.AddCrew(CrewSpec{ID: "crew-1", Position: &crewPos})
	require.NoError(t, err)
	w.start()

	require.NoError(t, w.fleet.InjectBreakdown(w.ctx, "bus-1", "engine"))

	want := []string{"BROKEN_DOWN", "AWAITING_REPAIR", "UNDER_REPAIR", "OPERATIONAL"}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, w.transitions("bus-1", events.AxisHealth))
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(w.contracts("bus-1", "DONE")) == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 8, w.pool.Available()[model.ResourceTools])
	assert.Empty(t, w.traffic.Status().Stalled)
	done := w.contracts("bus-1", "DONE")[0]
	assert.Equal(t, "crew-1", done.Winner)
	assert.Equal(t, "repair:engine", done.Task)

	snap, ok := w.fleet.Env().Directory.Get("bus-1")
	require.True(t, ok)
	assert.Equal(t, model.Operational, snap.Health)
	assert.Empty(t, snap.Fault)
}

func TestRepairWithoutCrewIsRetriedThenReported(t *testing.T) {
	w := newWorld(t, nil)
	_, err := w.fleet.AddVehicle(VehicleSpec{ID: "bus-1", Class: model.ClassBus, Position: model.C(3, 3)})
	require.NoError(t, err)
	w.start()

	require.NoError(t, w.fleet.InjectBreakdown(w.ctx, "bus-1", "tire"))

	require.Eventually(t, func() bool {
		return len(w.contracts("bus-1", "FAILED")) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return len(w.contracts("bus-1", "FAILED")) > 3
	}, 100*time.Millisecond, 10*time.Millisecond)

	failed := w.contracts("bus-1", "FAILED")
	ids := map[string]bool{}
	for i, ce := range failed {
		assert.Equal(t, i+1, ce.Attempt)
		assert.Equal(t, "no proposals", ce.Reason)
		ids[ce.ContractID] = true
	}
	assert.Len(t, ids, 3, "retries must use fresh contract ids")
	assert.Equal(t, []string{"BROKEN_DOWN", "AWAITING_REPAIR"}, w.transitions("bus-1", events.AxisHealth))
}

func TestStaleCrewReportsAreIgnored(t *testing.T) {
	w := newWorld(t, nil)
	_, err := w.fleet.AddVehicle(VehicleSpec{ID: "bus-1", Class: model.ClassBus, Position: model.C(3, 3)})
	require.NoError(t, err)
	_, err = w.bus.Register("crew-9")
	require.NoError(t, err)
	w.start()

	require.NoError(t, w.fleet.InjectBreakdown(w.ctx, "bus-1", "tire"))
	require.Eventually(t, func() bool {
		return len(w.contracts("bus-1", "FAILED")) == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.bus.Send(w.ctx, bus.New(bus.TypeCrewArrived, "crew-9", "bus-1",
		CrewArrival{ContractID: "old", Crew: "crew-9"}).Correlate("old")))
	require.NoError(t, w.bus.Send(w.ctx, bus.New(bus.TypeRepairComplete, "crew-9", "bus-1",
		RepairDone{ContractID: "old", Crew: "crew-9", Fault: "tire"}).Correlate("old")))

	assert.Never(t, func() bool {
		return len(w.transitions("bus-1", events.AxisHealth)) > 2
	}, 100*time.Millisecond, 10*time.Millisecond)
	snap, ok := w.fleet.Env().Directory.Get("bus-1")
	require.True(t, ok)
	assert.Equal(t, model.AwaitingRepair, snap.Health)
}

func TestBrokenTramBlocksItsRail(t *testing.T) {
	w := newWorld(t, func(e *Env) { e.Rand = &ScriptedRand{Ints: []int{9, 10}} })
	_, err := w.fleet.AddVehicle(VehicleSpec{ID: "tram-1", Class: model.ClassTram, Position: model.C(5, 10)})
	require.NoError(t, err)
	w.start()

	require.Eventually(t, func() bool {
		return w.traffic.Status().VehiclesByClass["tram"] == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, w.fleet.InjectBreakdown(w.ctx, "tram-1", "tow"))

	require.Eventually(t, func() bool {
		st := w.traffic.Status()
		return st.BlockedRails == 1 && len(st.Stalled) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tram-1"}, w.traffic.Status().Stalled)
}

func TestBusDrivesAroundStalledVehicle(t *testing.T) {
	w := newWorld(t, func(e *Env) { e.Rand = &ScriptedRand{Ints: []int{9, 3}} })
	res, err := w.traffic.RequestOccupancy(traffic.Request{VehicleID: "ghost", Class: model.ClassBus, Cell: model.C(5, 3), Heading: model.East})
	require.NoError(t, err)
	require.True(t, res.Granted)
	w.traffic.MarkStalled("ghost")

	_, err = w.fleet.AddVehicle(VehicleSpec{ID: "bus-1", Class: model.ClassBus, Position: model.C(3, 3)})
	require.NoError(t, err)
	w.start()

	entered := func(cell model.Cell) bool {
		return w.rec.Count(func(e events.Event) bool {
			oe, ok := e.(events.OccupancyEvent)
			return ok && oe.VehicleID == "bus-1" && oe.Action == events.OccupancyGranted &&
				strings.HasPrefix(oe.Segment, cell.String()+"/")
		}) > 0
	}
	require.Eventually(t, func() bool { return entered(model.C(9, 3)) }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, entered(model.C(5, 3)), "the stalled cell is avoided")
	assert.True(t, entered(model.C(4, 4)))
}

func TestLowFuelReturnsToBaseAndRedeploys(t *testing.T) {
	w := newWorld(t, func(e *Env) {
		e.Settings.FuelCapacity = 10
		e.Settings.LowFuel = 5
		e.Settings.FuelPerStep = 2
		e.Rand = &ScriptedRand{Ints: []int{8, 10}}
	})
	_, err := w.fleet.AddVehicle(VehicleSpec{ID: "bus-1", Class: model.ClassBus, Position: model.C(3, 10)})
	require.NoError(t, err)
	w.start()

	require.Eventually(t, func() bool {
		return len(w.transitions("bus-1", events.AxisFuel)) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"AT_BASE", "ACTIVE"}, w.transitions("bus-1", events.AxisFuel)[:2])

	var parked events.LifecycleEvent
	for _, e := range w.rec.Events() {
		if le, ok := e.(events.LifecycleEvent); ok && le.To == "AT_BASE" {
			parked = le
			break
		}
	}
	assert.Equal(t, model.C(0, 10).String(), parked.Position)
}

func TestBreakdownIgnoredWhileBroken(t *testing.T) {
	w := newWorld(t, nil)
	_, err := w.fleet.AddVehicle(VehicleSpec{ID: "bus-1", Class: model.ClassBus, Position: model.C(3, 3)})
	require.NoError(t, err)
	w.start()

	require.NoError(t, w.fleet.InjectBreakdown(w.ctx, "bus-1", "tire"))
	require.Eventually(t, func() bool {
		return len(w.transitions("bus-1", events.AxisHealth)) == 2
	}, time.Second, 5*time.Millisecond)
	// the vehicle is still visible, so a second injection is accepted by the
	// bus but ignored by the lifecycle loop
	require.NoError(t, w.fleet.InjectBreakdown(w.ctx, "bus-1", "engine"))
	assert.Never(t, func() bool {
		return len(w.transitions("bus-1", events.AxisHealth)) > 2
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestRandomBreakdownUsesInjectedSource(t *testing.T) {
	w := newWorld(t, func(e *Env) {
		e.Settings.BreakdownProbability = 0.5
		e.Rand = &ScriptedRand{Floats: []float64{0.9, 0.9, 0.1, 0.99}, Ints: []int{2}}
	})
	_, err := w.fleet.AddVehicle(VehicleSpec{ID: "bus-1", Class: model.ClassBus, Position: model.C(3, 3)})
	require.NoError(t, err)
	w.start()

	require.Eventually(t, func() bool {
		return len(w.transitions("bus-1", events.AxisHealth)) >= 1
	}, time.Second, 5*time.Millisecond)
	var le events.LifecycleEvent
	for _, e := range w.rec.Events() {
		if l, ok := e.(events.LifecycleEvent); ok && l.Axis == events.AxisHealth {
			le = l
			break
		}
	}
	assert.Equal(t, "BROKEN_DOWN", le.To)
	assert.Equal(t, "tow", le.Fault)
}
