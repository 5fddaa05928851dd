package actor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/cityfleet/core/model"
)

// ErrBaseFull is returned when a vehicle tries to park at a full base.
var ErrBaseFull = errors.New("base full")

// Depots tracks which vehicles are parked at each base.
type Depots struct {
	mu     sync.Mutex
	bases  map[model.BaseKind]model.Base
	parked map[model.BaseKind]map[string]bool
}

// NewDepots creates empty depots for the given bases.
func NewDepots(bases map[model.BaseKind]model.Base) *Depots {
	d := &Depots{bases: bases, parked: map[model.BaseKind]map[string]bool{}}
	for k := range bases {
		d.parked[k] = map[string]bool{}
	}
	return d
}

// Park records a vehicle at a base.
func (d *Depots) Park(kind model.BaseKind, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bases[kind]
	if !ok {
		return fmt.Errorf("no %s base", kind)
	}
	if d.parked[kind][id] {
		return nil
	}
	if len(d.parked[kind]) >= b.Capacity {
		return fmt.Errorf("%w: %s (%d)", ErrBaseFull, kind, b.Capacity)
	}
	d.parked[kind][id] = true
	return nil
}

// Leave removes a vehicle from a base.
func (d *Depots) Leave(kind model.BaseKind, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.parked[kind], id)
}

// Parked returns the vehicles at a base, sorted.
func (d *Depots) Parked(kind model.BaseKind) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.parked[kind]))
	for id := range d.parked[kind] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
