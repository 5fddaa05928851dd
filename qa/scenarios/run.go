package scenarios

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/cityfleet/app"
	"github.com/kilianp07/cityfleet/core/actor"
	"github.com/kilianp07/cityfleet/core/events"
)

const (
	minBuffer    = 4096
	pollInterval = 10 * time.Millisecond
)

// Report is the outcome of one scenario run.
type Report struct {
	Name    string
	Elapsed time.Duration
	// Contracts counts contract events by task then state.
	Contracts     map[string]map[string]int
	Health        map[string]string
	Fuel          map[string]string
	Served        map[string]int
	TriggerErrors []string
	Failures      []string

	events []events.ContractEvent
}

// Passed reports whether every expectation held and every trigger applied.
func (r *Report) Passed() bool { return len(r.Failures) == 0 && len(r.TriggerErrors) == 0 }

// Count returns the contract events matching the expectation filters.
func (r *Report) Count(initiator, task, state string) int {
	n := 0
	for _, ev := range r.events {
		if ev.State != state {
			continue
		}
		if initiator != "" && ev.Initiator != initiator {
			continue
		}
		if task != "" && ev.Task != task {
			continue
		}
		n++
	}
	return n
}

// contractLog is the metrics sink of a scenario run.
type contractLog struct {
	mu  sync.Mutex
	evs []events.ContractEvent
}

func (l *contractLog) RecordContract(ev events.ContractEvent) error {
	l.mu.Lock()
	l.evs = append(l.evs, ev)
	l.mu.Unlock()
	return nil
}

func (l *contractLog) snapshot() []events.ContractEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.ContractEvent(nil), l.evs...)
}

// Run builds the scenario's world, applies its triggers on schedule and
// stops once every expectation holds or Duration has elapsed. The returned
// error covers setup and fleet failures; unmet expectations are listed in
// the report.
func Run(ctx context.Context, sc *Scenario) (*Report, error) {
	cfg, err := sc.BuildConfig()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	log := &contractLog{}
	svc, err := app.New(cfg, app.WithSink(log), app.WithRand(sc.Random.Rand()))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	defer svc.Close()

	runCtx, cancel := context.WithTimeout(ctx, sc.Duration)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(runCtx) }()

	rep := &Report{Name: sc.Name}
	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	next := 0
	var runErr error
	running := true
	for running {
		select {
		case <-runCtx.Done():
			running = false
		case runErr = <-errc:
			errc = nil
			running = false
		case <-ticker.C:
			for next < len(sc.Triggers) && time.Since(start) >= sc.Triggers[next].At {
				step := sc.Triggers[next]
				if err := app.Apply(runCtx, svc.Fleet, step.Trigger); err != nil {
					rep.TriggerErrors = append(rep.TriggerErrors, fmt.Sprintf("%s at %s: %v", step.Kind, step.At, err))
				}
				next++
			}
			if next == len(sc.Triggers) && !sc.FullRun {
				observe(rep, svc.Fleet, log)
				running = len(check(sc.Expected, rep)) > 0
			}
		}
	}
	cancel()
	if errc != nil {
		runErr = <-errc
	}
	rep.Elapsed = time.Since(start)
	for ; next < len(sc.Triggers); next++ {
		rep.TriggerErrors = append(rep.TriggerErrors, fmt.Sprintf("%s at %s: not reached", sc.Triggers[next].Kind, sc.Triggers[next].At))
	}
	observe(rep, svc.Fleet, log)
	rep.Failures = check(sc.Expected, rep)
	return rep, runErr
}

func observe(rep *Report, f *actor.Fleet, log *contractLog) {
	rep.events = log.snapshot()
	rep.Contracts = map[string]map[string]int{}
	for _, ev := range rep.events {
		if rep.Contracts[ev.Task] == nil {
			rep.Contracts[ev.Task] = map[string]int{}
		}
		rep.Contracts[ev.Task][ev.State]++
	}
	rep.Health = map[string]string{}
	rep.Fuel = map[string]string{}
	for _, s := range f.Snapshot() {
		rep.Health[s.ID] = s.Health.String()
		rep.Fuel[s.ID] = s.Fuel.String()
	}
	rep.Served = map[string]int{}
	for _, s := range f.Snapshot() {
		if a, ok := f.Actor(s.ID); ok {
			if st, ok := a.(*actor.Station); ok {
				rep.Served[s.ID] = st.Served()
			}
		}
	}
}

func check(exp Expected, rep *Report) []string {
	var out []string
	for _, c := range exp.Contracts {
		n := rep.Count(c.Initiator, c.Task, c.State)
		if n < c.Min {
			out = append(out, fmt.Sprintf("contracts %s: got %d, want at least %d", c, n, c.Min))
		}
		if c.Max != nil && n > *c.Max {
			out = append(out, fmt.Sprintf("contracts %s: got %d, want at most %d", c, n, *c.Max))
		}
	}
	out = append(out, compareStates("health", exp.Health, rep.Health)...)
	out = append(out, compareStates("fuel", exp.Fuel, rep.Fuel)...)
	for _, id := range sortedKeys(exp.Served) {
		got, ok := rep.Served[id]
		if !ok {
			out = append(out, fmt.Sprintf("served %s: unknown station", id))
			continue
		}
		if got < exp.Served[id] {
			out = append(out, fmt.Sprintf("served %s: got %d, want at least %d", id, got, exp.Served[id]))
		}
	}
	return out
}

func compareStates(axis string, want, got map[string]string) []string {
	var out []string
	for _, id := range sortedKeys(want) {
		g, ok := got[id]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s %s: unknown actor", axis, id))
		case g != want[id]:
			out = append(out, fmt.Sprintf("%s %s: got %s, want %s", axis, id, g, want[id]))
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
