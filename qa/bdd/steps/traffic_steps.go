package steps

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/kilianp07/cityfleet/core/model"
	"github.com/kilianp07/cityfleet/core/traffic"
)

var headings = map[string]model.Heading{
	"east":  model.East,
	"west":  model.West,
	"north": model.North,
	"south": model.South,
}

type trafficContext struct {
	coord   *traffic.Coordinator
	cell    model.Cell
	results map[string]traffic.Result
}

func (tc *trafficContext) reset() {
	tc.coord = traffic.NewCoordinator()
	tc.cell = model.C(5, 5)
	tc.results = map[string]traffic.Result{}
}

func (tc *trafficContext) aSegmentAt(x, y int) error {
	tc.cell = model.C(x, y)
	return nil
}

func (tc *trafficContext) vehicleEnters(class, id, heading string) error {
	cls, err := model.ParseVehicleClass(class)
	if err != nil {
		return err
	}
	res, err := tc.coord.RequestOccupancy(traffic.Request{VehicleID: id, Class: cls, Cell: tc.cell, Heading: headings[heading]})
	if err != nil {
		return err
	}
	tc.results[id] = res
	return nil
}

func (tc *trafficContext) vehicleBreaksDown(id string) error {
	tc.coord.MarkStalled(id)
	return nil
}

func (tc *trafficContext) vehicleIsRepairedAndLeaves(id string) error {
	tc.coord.Unstall(id)
	return tc.coord.ReleaseOccupancy(id, tc.cell)
}

func (tc *trafficContext) vehicleIs(id, outcome string) error {
	res, ok := tc.results[id]
	if !ok {
		return fmt.Errorf("%s never asked to enter", id)
	}
	var got string
	switch {
	case res.Granted:
		got = "granted"
	case res.Reason == traffic.ReasonRailBlocked:
		got = "rail blocked"
	default:
		got = "blocked"
	}
	if got != outcome {
		return fmt.Errorf("expected %s to be %s, got %s (%s)", id, outcome, got, res.Reason)
	}
	return nil
}

func (tc *trafficContext) vehicleIsBlockedBy(id, by string) error {
	if got := tc.results[id].BlockedBy; got != by {
		return fmt.Errorf("expected %s to be blocked by %q, got %q", id, by, got)
	}
	return nil
}

func (tc *trafficContext) vehiclesOccupyTheCell(n int) error {
	if got := len(tc.coord.Occupants(tc.cell)); got != n {
		return fmt.Errorf("expected %d occupants, got %d", n, got)
	}
	return nil
}

// InitializeTrafficScenario registers the traffic coordinator steps.
func InitializeTrafficScenario(sc *godog.ScenarioContext) {
	tc := &trafficContext{}
	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})
	sc.Step(`^a segment at (\d+),(\d+)$`, tc.aSegmentAt)
	sc.Step(`^(tram|bus) "([^"]*)" heading (east|west|north|south) enters the segment$`, tc.vehicleEnters)
	sc.Step(`^tram "([^"]*)" breaks down$`, tc.vehicleBreaksDown)
	sc.Step(`^"([^"]*)" is repaired and leaves$`, tc.vehicleIsRepairedAndLeaves)
	sc.Step(`^"([^"]*)" is (granted|blocked|rail blocked)$`, tc.vehicleIs)
	sc.Step(`^"([^"]*)" is blocked by "([^"]*)"$`, tc.vehicleIsBlockedBy)
	sc.Step(`^(\d+) vehicles occupy the segment$`, tc.vehiclesOccupyTheCell)
}
