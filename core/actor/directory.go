package actor

import (
	"sort"
	"sync"

	"github.com/kilianp07/cityfleet/core/model"
)

type entry struct {
	snap   model.Snapshot
	bidder CanBidOnContract
}

// Directory holds the latest snapshot of every actor. It backs the
// read-only snapshot query and CFP candidate selection.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: map[string]*entry{}}
}

// Add registers an actor and its capabilities.
func (d *Directory) Add(a Actor) {
	e := &entry{snap: a.Snapshot()}
	if b, ok := a.(CanBidOnContract); ok {
		e.bidder = b
	}
	d.mu.Lock()
	d.entries[a.ID()] = e
	d.mu.Unlock()
}

// Update stores a new snapshot published by its actor.
func (d *Directory) Update(s model.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[s.ID]; ok {
		e.snap = s
		return
	}
	d.entries[s.ID] = &entry{snap: s}
}

// Get returns the snapshot of one actor.
func (d *Directory) Get(id string) (model.Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return model.Snapshot{}, false
	}
	return e.snap, true
}

// Snapshots returns every actor's snapshot sorted by id.
func (d *Directory) Snapshots() []model.Snapshot {
	d.mu.RLock()
	out := make([]model.Snapshot, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.snap)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Candidates returns the visible bidders for a task kind within radius of
// loc, sorted by id. exclude is left out.
func (d *Directory) Candidates(kind string, loc model.Cell, radius int, exclude string) []string {
	d.mu.RLock()
	var out []string
	for id, e := range d.entries {
		if id == exclude || e.bidder == nil || !e.bidder.BidsOn(kind) {
			continue
		}
		if !e.snap.Visible() || !e.snap.Position.Within(loc, radius) {
			continue
		}
		out = append(out, id)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}
