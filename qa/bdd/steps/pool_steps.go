package steps

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/cucumber/godog"

	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/pool"
)

type poolContext struct {
	pool       *pool.Pool
	lastStatus pool.Status
	err        error
	violations []string
}

func (pc *poolContext) reset() {
	pc.pool = nil
	pc.lastStatus = 0
	pc.err = nil
	pc.violations = nil
}

func (pc *poolContext) aPoolWith(tools, hooks int) error {
	pc.pool = pool.New(map[string]int{model.ResourceTools: tools, model.ResourceTowHooks: hooks}, pool.DefaultConfig())
	return nil
}

func (pc *poolContext) jobRequestsTools(job string, tools int) error {
	pc.lastStatus, pc.err = pc.pool.Reserve(pool.Request{
		JobID:        job,
		Owner:        "crew-" + job,
		Requirements: map[string]int{model.ResourceTools: tools},
	})
	return pc.err
}

func (pc *poolContext) jobRequestsToolsAndHooks(job string, tools, hooks int) error {
	pc.lastStatus, pc.err = pc.pool.Reserve(pool.Request{
		JobID:        job,
		Owner:        "crew-" + job,
		Requirements: map[string]int{model.ResourceTools: tools, model.ResourceTowHooks: hooks},
	})
	return pc.err
}

func (pc *poolContext) theJobIs(status string) error {
	if pc.lastStatus.String() != status {
		return fmt.Errorf("expected job to be %s, got %s", status, pc.lastStatus)
	}
	return nil
}

func (pc *poolContext) resourcesAreAvailable(n int, resource string) error {
	got := pc.pool.Available()[strings.ReplaceAll(resource, " ", "_")]
	if got != n {
		return fmt.Errorf("expected %d %s available, got %d", n, resource, got)
	}
	return nil
}

func (pc *poolContext) jobReleases(job string) error {
	return pc.pool.Release(job)
}

func (pc *poolContext) releasingAgainFails(job string) error {
	err := pc.pool.Release(job)
	if !errors.Is(err, pool.ErrDoubleRelease) {
		return fmt.Errorf("expected double release error, got %v", err)
	}
	return nil
}

func (pc *poolContext) jobHoldsItsResources(job string) error {
	if !pc.pool.Holding(job) {
		return fmt.Errorf("job %s holds nothing", job)
	}
	return nil
}

func (pc *poolContext) theBacklogIsEmpty() error {
	if b := pc.pool.Backlog(); len(b) > 0 {
		return fmt.Errorf("expected empty backlog, got %d jobs", len(b))
	}
	return nil
}

func (pc *poolContext) theBacklogIs(list string) error {
	var got []string
	for _, e := range pc.pool.Backlog() {
		got = append(got, e.JobID)
	}
	want := strings.Split(list, ", ")
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("expected backlog %v, got %v", want, got)
	}
	return nil
}

func (pc *poolContext) randomCallsAreMade(n int, seed int64) error {
	r := rand.New(rand.NewSource(seed))
	total := pc.pool.Total()
	var jobs []string
	for i := 0; i < n; i++ {
		holding := holders(pc.pool, jobs)
		if len(holding) > 0 && r.Intn(2) == 0 {
			job := holding[r.Intn(len(holding))]
			if err := pc.pool.Release(job); err != nil {
				return err
			}
		} else {
			job := fmt.Sprintf("job-%d", i)
			req := map[string]int{model.ResourceTools: 1 + r.Intn(total[model.ResourceTools])}
			if r.Intn(3) == 0 {
				req[model.ResourceTowHooks] = 1 + r.Intn(total[model.ResourceTowHooks])
			}
			if _, err := pc.pool.Reserve(pool.Request{JobID: job, Owner: "crew", Requirements: req, Urgency: float64(r.Intn(3))}); err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		pc.checkBounds(total)
	}
	return nil
}

// holders returns the jobs currently holding resources.
func holders(p *pool.Pool, jobs []string) []string {
	var out []string
	for _, j := range jobs {
		if p.Holding(j) {
			out = append(out, j)
		}
	}
	return out
}

func (pc *poolContext) checkBounds(total map[string]int) {
	for res, avail := range pc.pool.Available() {
		if avail < 0 || avail > total[res] {
			pc.violations = append(pc.violations, fmt.Sprintf("%s=%d", res, avail))
		}
	}
}

func (pc *poolContext) availableStaysWithinBounds() error {
	if len(pc.violations) > 0 {
		sort.Strings(pc.violations)
		return fmt.Errorf("available out of bounds: %v", pc.violations)
	}
	return nil
}

// InitializePoolScenario registers the resource pool steps.
func InitializePoolScenario(sc *godog.ScenarioContext) {
	pc := &poolContext{}
	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		pc.reset()
		return ctx, nil
	})
	sc.Step(`^a pool with (\d+) tools and (\d+) tow hooks$`, pc.aPoolWith)
	sc.Step(`^job "([^"]*)" requests (\d+) tools$`, pc.jobRequestsTools)
	sc.Step(`^job "([^"]*)" requests (\d+) tools and (\d+) tow hooks$`, pc.jobRequestsToolsAndHooks)
	sc.Step(`^the job is (granted|queued)$`, pc.theJobIs)
	sc.Step(`^(\d+) (tools|tow hooks) (?:are|is) available$`, pc.resourcesAreAvailable)
	sc.Step(`^job "([^"]*)" releases its resources$`, pc.jobReleases)
	sc.Step(`^releasing job "([^"]*)" again fails$`, pc.releasingAgainFails)
	sc.Step(`^job "([^"]*)" holds its resources$`, pc.jobHoldsItsResources)
	sc.Step(`^the backlog is empty$`, pc.theBacklogIsEmpty)
	sc.Step(`^the backlog is "([^"]*)"$`, pc.theBacklogIs)
	sc.Step(`^(\d+) random reserve and release calls are made with seed (\d+)$`, pc.randomCallsAreMade)
	sc.Step(`^available stays between zero and total$`, pc.availableStaysWithinBounds)
}
