package actor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/model"
)

func TestWeatherEffects(t *testing.T) {
	c := NewConditions()
	assert.Equal(t, Effect{Speed: 1, Breakdown: 1}, c.Effect())

	require.NoError(t, c.SetWeather(Rain))
	assert.Equal(t, Rain, c.Weather())
	assert.Equal(t, 0.5, c.Effect().Speed)
	assert.InDelta(t, 1.2, c.Effect().Breakdown, 1e-9)

	w, err := ParseWeather("snow")
	require.NoError(t, err)
	assert.Equal(t, Snow, w)
	_, err = ParseWeather("sandstorm")
	assert.Error(t, err)
}

func TestDemandMultiplierFadesWithDistance(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	c := NewConditions()
	c.Observe(nil, func() time.Time { return now })
	c.AddSurge(model.C(5, 5), 2, 0.8, time.Hour)

	assert.InDelta(t, 3.4, c.DemandMultiplier(model.C(5, 5)), 1e-9)
	assert.InDelta(t, 2.2, c.DemandMultiplier(model.C(6, 5)), 1e-9)
	assert.InDelta(t, 1.0, c.DemandMultiplier(model.C(9, 9)), 1e-9)
	assert.True(t, c.Surging(model.C(6, 5)))
	assert.False(t, c.Surging(model.C(9, 9)))

	now = now.Add(2 * time.Hour)
	assert.InDelta(t, 1.0, c.DemandMultiplier(model.C(5, 5)), 1e-9)
	assert.False(t, c.Surging(model.C(5, 5)))
}

func TestStrongestSurgeWins(t *testing.T) {
	c := NewConditions()
	c.AddSurge(model.C(0, 0), 4, 0.5, time.Hour)
	c.AddSurge(model.C(1, 0), 2, 1, time.Hour)
	assert.InDelta(t, 4.0, c.DemandMultiplier(model.C(1, 0)), 1e-9)
}
