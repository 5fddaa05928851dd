package actor

import (
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/model"
)

// Weather kinds.
type Weather string

const (
	Clear     Weather = "clear"
	Rain      Weather = "rain"
	HeavyRain Weather = "heavy_rain"
	Snow      Weather = "snow"
	Fog       Weather = "fog"
)

// Effect scales movement speed and breakdown probability.
type Effect struct {
	Speed     float64
	Breakdown float64
}

var weatherEffects = map[Weather]Effect{
	Clear:     {Speed: 1, Breakdown: 1},
	Rain:      {Speed: 0.5, Breakdown: 1.2},
	HeavyRain: {Speed: 0.4, Breakdown: 1.5},
	Snow:      {Speed: 0.35, Breakdown: 1.6},
	Fog:       {Speed: 0.8, Breakdown: 1.1},
}

// ParseWeather validates a weather name.
func ParseWeather(s string) (Weather, error) {
	w := Weather(s)
	if _, ok := weatherEffects[w]; !ok {
		return "", fmt.Errorf("unknown weather %q", s)
	}
	return w, nil
}

// Surge raises demand around a location for a while.
type Surge struct {
	Location  model.Cell
	Radius    int
	Intensity float64
	Until     time.Time
}

// Conditions holds the external trigger inputs read by the lifecycle loops.
// It is not core state: only the weather and surge signals mutate it.
type Conditions struct {
	mu      sync.RWMutex
	weather Weather
	surges  []Surge
	events  events.Emitter
	now     func() time.Time
}

// NewConditions starts with clear weather and no surge.
func NewConditions() *Conditions {
	return &Conditions{weather: Clear, events: events.NopEmitter{}, now: time.Now}
}

// Observe sets where condition changes are reported and the clock used to
// expire surges.
func (c *Conditions) Observe(e events.Emitter, now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e != nil {
		c.events = e
	}
	if now != nil {
		c.now = now
	}
}

// SetWeather switches the city-wide weather.
func (c *Conditions) SetWeather(w Weather) error {
	eff, ok := weatherEffects[w]
	if !ok {
		return fmt.Errorf("unknown weather %q", w)
	}
	c.mu.Lock()
	c.weather = w
	em, now := c.events, c.now
	c.mu.Unlock()
	em.Publish(events.ConditionEvent{Condition: "weather", Value: string(w), Multiplier: eff.Speed, Time: now()})
	return nil
}

// Weather returns the current weather.
func (c *Conditions) Weather() Weather {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weather
}

// Effect returns the multipliers of the current weather.
func (c *Conditions) Effect() Effect {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return weatherEffects[c.weather]
}

// AddSurge registers a demand surge lasting d.
func (c *Conditions) AddSurge(loc model.Cell, radius int, intensity float64, d time.Duration) {
	c.mu.Lock()
	now := c.now()
	c.surges = append(c.surges, Surge{Location: loc, Radius: radius, Intensity: intensity, Until: now.Add(d)})
	em := c.events
	c.mu.Unlock()
	em.Publish(events.ConditionEvent{Condition: "surge", Value: loc.String(), Multiplier: 1 + 3*intensity, Time: now})
}

// DemandMultiplier returns 1 plus the strongest active surge reaching loc.
// A surge fades linearly to nothing at its radius.
func (c *Conditions) DemandMultiplier(loc model.Cell) float64 {
	best := 0.0
	for _, s := range c.active() {
		d := loc.Distance(s.Location)
		if s.Radius <= 0 || d > float64(s.Radius) {
			continue
		}
		if v := s.Intensity * (1 - d/float64(s.Radius)); v > best {
			best = v
		}
	}
	return 1 + 3*best
}

// Surging reports whether any active surge reaches loc.
func (c *Conditions) Surging(loc model.Cell) bool {
	for _, s := range c.active() {
		if loc.Distance(s.Location) <= float64(s.Radius) {
			return true
		}
	}
	return false
}

func (c *Conditions) active() []Surge {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	kept := c.surges[:0]
	for _, s := range c.surges {
		if now.Before(s.Until) {
			kept = append(kept, s)
		}
	}
	c.surges = kept
	return append([]Surge(nil), kept...)
}
