package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/cnp"
	"github.com/kilianp07/cityfleet/core/model"
)

func TestCandidatesFilterByCapabilityVisibilityAndRadius(t *testing.T) {
	w := newWorld(t, nil)
	_, err := w.fleet.AddVehicle(VehicleSpec{ID: "bus-b", Class: model.ClassBus, Position: model.C(5, 6)})
	require.NoError(t, err)
	_, err = w.fleet.AddVehicle(VehicleSpec{ID: "bus-a", Class: model.ClassBus, Position: model.C(4, 5)})
	require.NoError(t, err)
	_, err = w.fleet.AddVehicle(VehicleSpec{ID: "bus-far", Class: model.ClassBus, Position: model.C(19, 19)})
	require.NoError(t, err)
	_, err = w.fleet.AddVehicle(VehicleSpec{ID: "bus-parked", Class: model.ClassBus, Position: model.C(5, 5)})
	require.NoError(t, err)
	_, err = w.fleet.AddCrew(CrewSpec{ID: "crew-1"})
	require.NoError(t, err)

	d := w.fleet.Env().Directory
	parked, _ := d.Get("bus-parked")
	parked.Fuel = model.AtBase
	d.Update(parked)

	assert.Equal(t, []string{"bus-a", "bus-b"}, d.Candidates(cnp.TaskCapacity, model.C(5, 5), 3, ""))
	assert.Equal(t, []string{"bus-b"}, d.Candidates(cnp.TaskCapacity, model.C(5, 5), 3, "bus-a"))
	assert.Equal(t, []string{"crew-1"}, d.Candidates(cnp.TaskRepair, model.C(5, 5), 40, ""))
	assert.Empty(t, d.Candidates(cnp.TaskRepair, model.C(5, 5), 1, ""))
}

func TestDepotsRefuseFullBase(t *testing.T) {
	d := NewDepots(map[model.BaseKind]model.Base{model.BaseTram: {Kind: model.BaseTram, Entry: model.C(19, 10), Capacity: 1}})
	require.NoError(t, d.Park(model.BaseTram, "tram-1"))
	require.NoError(t, d.Park(model.BaseTram, "tram-1"))
	assert.ErrorIs(t, d.Park(model.BaseTram, "tram-2"), ErrBaseFull)
	assert.Error(t, d.Park(model.BaseBus, "bus-1"))

	d.Leave(model.BaseTram, "tram-1")
	require.NoError(t, d.Park(model.BaseTram, "tram-2"))
	assert.Equal(t, []string{"tram-2"}, d.Parked(model.BaseTram))
}

func TestScriptedRandRepeatsLastValue(t *testing.T) {
	r := &ScriptedRand{Floats: []float64{0.1, 0.2}, Ints: []int{7}}
	assert.Equal(t, 0.1, r.Float64())
	assert.Equal(t, 0.2, r.Float64())
	assert.Equal(t, 0.2, r.Float64())
	assert.Equal(t, 7, r.Intn(10))
	assert.Equal(t, 1, r.Intn(3))
	assert.Equal(t, 0.99, (&ScriptedRand{}).Float64())
}
