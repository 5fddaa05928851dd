package model

import (
	"fmt"
	"sort"
	"time"
)

// Resource names used by the maintenance pool.
const (
	ResourceTools    = "tools"
	ResourceTowHooks = "tow_hooks"
)

// FaultClass describes one kind of breakdown: what a crew must reserve to fix
// it, how long the repair takes and how urgent it is.
type FaultClass struct {
	Name         string         `json:"name" yaml:"name"`
	Requirements map[string]int `json:"requirements" yaml:"requirements"`
	Repair       time.Duration  `json:"repair" yaml:"repair"`
	Urgency      float64        `json:"urgency" yaml:"urgency"`
}

// FaultCatalog is an ordered set of fault classes.
type FaultCatalog []FaultClass

// DefaultFaults mirrors the reference maintenance settings.
func DefaultFaults() FaultCatalog {
	return FaultCatalog{
		{Name: "tire", Requirements: map[string]int{ResourceTools: 2}, Repair: 2 * time.Second, Urgency: 1},
		{Name: "engine", Requirements: map[string]int{ResourceTools: 5}, Repair: 7 * time.Second, Urgency: 3},
		{Name: "tow", Requirements: map[string]int{ResourceTowHooks: 1}, Repair: 3 * time.Second, Urgency: 2},
	}
}

// Lookup returns the fault class with the given name.
func (c FaultCatalog) Lookup(name string) (FaultClass, bool) {
	for _, f := range c {
		if f.Name == name {
			return f, true
		}
	}
	return FaultClass{}, false
}

// Names returns the fault names in catalogue order.
func (c FaultCatalog) Names() []string {
	out := make([]string, len(c))
	for i, f := range c {
		out[i] = f.Name
	}
	return out
}

// Validate checks that every fault is usable by the pool.
func (c FaultCatalog) Validate() error {
	seen := map[string]bool{}
	for _, f := range c {
		if f.Name == "" {
			return fmt.Errorf("fault without name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate fault %s", f.Name)
		}
		seen[f.Name] = true
		if len(f.Requirements) == 0 {
			return fmt.Errorf("fault %s has no requirements", f.Name)
		}
		for r, n := range f.Requirements {
			if n <= 0 {
				return fmt.Errorf("fault %s: non-positive quantity for %s", f.Name, r)
			}
		}
		if f.Repair <= 0 {
			return fmt.Errorf("fault %s: repair duration must be positive", f.Name)
		}
	}
	return nil
}

// SortedResources returns the resource names of a requirement map in
// lexical order so that iteration is reproducible.
func SortedResources(req map[string]int) []string {
	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
