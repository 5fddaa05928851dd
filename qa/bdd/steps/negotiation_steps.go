package steps

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/cnp"
)

const outcomeTimeout = 3 * time.Second

// tap records every message sent through the bus.
type tap struct {
	*bus.Bus
	mu   sync.Mutex
	sent []bus.Message
}

func (t *tap) Send(ctx context.Context, msg bus.Message) error {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.mu.Unlock()
	return t.Bus.Send(ctx, msg)
}

func (t *tap) decisions() []bus.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []bus.Message
	for _, m := range t.sent {
		if m.Type == bus.TypeAccept || m.Type == bus.TypeReject {
			out = append(out, m)
		}
	}
	return out
}

type fixedBid struct {
	prop cnp.Proposal
}

func (fixedBid) Eligible(cnp.CallForProposals) bool { return true }
func (b fixedBid) Bid(cnp.CallForProposals) cnp.Proposal {
	return b.prop
}

type bidderActor struct {
	part   *cnp.Participant
	silent bool
	awards chan cnp.Award
}

type negotiationContext struct {
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *bus.Bus
	tap     *tap
	scoring cnp.Scoring
	ackless bool
	bidders map[string]*bidderActor
	order   []string
	ini     *cnp.Initiator

	contractID string
	outcomes   []cnp.Outcome
}

func (nc *negotiationContext) reset() {
	nc.stop()
	nc.ctx, nc.cancel = context.WithCancel(context.Background())
	nc.bus = bus.NewBus(bus.Config{Attempts: 3, Interval: time.Millisecond, MailboxSize: 16})
	nc.tap = &tap{Bus: nc.bus}
	nc.scoring = cnp.DefaultScoring()
	nc.ackless = false
	nc.bidders = map[string]*bidderActor{}
	nc.order = nil
	nc.ini = nil
	nc.contractID = ""
	nc.outcomes = nil
}

func (nc *negotiationContext) stop() {
	if nc.cancel != nil {
		nc.cancel()
	}
	if nc.ini != nil {
		nc.ini.Close()
	}
	if nc.bus != nil {
		nc.bus.Close()
	}
}

func (nc *negotiationContext) scoringWeights(capacity, eta, cost float64) error {
	nc.scoring.Weights = cnp.Weights{Capacity: capacity, Time: eta, Cost: cost}
	return nil
}

func (nc *negotiationContext) winnersDoNotAcknowledge() error {
	nc.ackless = true
	return nil
}

func (nc *negotiationContext) vehicleBids(id string, eta, cost int) error {
	return nc.addBidder(id, &fixedBid{prop: cnp.Proposal{ETA: time.Duration(eta) * time.Millisecond, Cost: float64(cost)}}, false)
}

func (nc *negotiationContext) vehicleStaysSilent(id string) error {
	return nc.addBidder(id, nil, true)
}

func (nc *negotiationContext) addBidder(id string, bidder cnp.Bidder, silent bool) error {
	mb, err := nc.bus.Register(id)
	if err != nil {
		return err
	}
	b := &bidderActor{silent: silent, awards: make(chan cnp.Award, 4)}
	if bidder != nil {
		b.part = cnp.NewParticipant(id, nc.tap, bidder, nil)
	}
	nc.bidders[id] = b
	nc.order = append(nc.order, id)
	ack := !nc.ackless
	ctx := nc.ctx
	go func() {
		for {
			msg, err := mb.Receive(ctx)
			if err != nil {
				return
			}
			if b.silent {
				continue
			}
			switch msg.Type {
			case bus.TypeCFP:
				_, _ = b.part.HandleCFP(ctx, msg)
			case bus.TypeAccept:
				if !ack {
					continue
				}
				if a, err := b.part.HandleAccept(ctx, msg); err == nil {
					b.awards <- a
				}
			case bus.TypeReject:
				b.part.HandleReject(msg)
			}
		}
	}()
	return nil
}

func (nc *negotiationContext) stationOpensContract(id string, window, maxCost int) error {
	cfg := cnp.DefaultConfig()
	cfg.Window = time.Duration(window) * time.Millisecond
	cfg.AckGrace = 100 * time.Millisecond
	cfg.ExecutionTimeout = 0
	cfg.Scoring = nc.scoring
	nc.ini = cnp.NewInitiator(id, nc.tap, cfg)
	mb, err := nc.bus.Register(id)
	if err != nil {
		return err
	}
	ctx, ini := nc.ctx, nc.ini
	go func() {
		for {
			msg, err := mb.Receive(ctx)
			if err != nil {
				return
			}
			_, _ = ini.Handle(ctx, msg)
		}
	}()
	nc.contractID, err = nc.ini.Open(ctx, cnp.Task{Kind: cnp.TaskCapacity, Capacity: 20, MaxCost: float64(maxCost)}, nc.order)
	return err
}

func (nc *negotiationContext) waitOutcome(state string) (cnp.Outcome, error) {
	for _, o := range nc.outcomes {
		if o.State.String() == state {
			return o, nil
		}
	}
	timeout := time.After(outcomeTimeout)
	for {
		select {
		case o := <-nc.ini.Outcomes():
			nc.outcomes = append(nc.outcomes, o)
			if o.State.String() == state {
				return o, nil
			}
		case <-timeout:
			return cnp.Outcome{}, fmt.Errorf("contract never reached %s", state)
		}
	}
}

func (nc *negotiationContext) winnerIs(id string) error {
	o, err := nc.waitOutcome("AWARDED")
	if err != nil {
		return err
	}
	if o.Winner != id {
		return fmt.Errorf("expected %s to win, got %s", id, o.Winner)
	}
	return nil
}

func (nc *negotiationContext) acceptThenReject(winner, loser string) error {
	deadline := time.Now().Add(outcomeTimeout)
	for {
		ds := nc.tap.decisions()
		if len(ds) >= 2 {
			if ds[0].Type != bus.TypeAccept || ds[0].Recipient != winner {
				return fmt.Errorf("first decision is %s to %s", ds[0].Type, ds[0].Recipient)
			}
			if ds[1].Type != bus.TypeReject || ds[1].Recipient != loser {
				return fmt.Errorf("second decision is %s to %s", ds[1].Type, ds[1].Recipient)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("expected two decisions, got %d", len(ds))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (nc *negotiationContext) cancelSentTo(id string) error {
	deadline := time.Now().Add(outcomeTimeout)
	for {
		nc.tap.mu.Lock()
		for _, m := range nc.tap.sent {
			if m.Type == bus.TypeCancel && m.Recipient == id {
				nc.tap.mu.Unlock()
				return nil
			}
		}
		nc.tap.mu.Unlock()
		if time.Now().After(deadline) {
			return fmt.Errorf("no CANCEL sent to %s", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (nc *negotiationContext) winnerReportsCompletion(id string) error {
	b, ok := nc.bidders[id]
	if !ok || b.part == nil {
		return fmt.Errorf("unknown bidder %s", id)
	}
	select {
	case a := <-b.awards:
		deadline := time.Now().Add(outcomeTimeout)
		for {
			if c, _ := nc.ini.Contract(a.ContractID); c.State == cnp.Executing {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("contract %s never executing", a.ContractID)
			}
			time.Sleep(5 * time.Millisecond)
		}
		return b.part.Complete(nc.ctx, a.ContractID, "served")
	case <-time.After(outcomeTimeout):
		return fmt.Errorf("%s never received its award", id)
	}
}

func (nc *negotiationContext) contractEnds(state, reason string) error {
	o, err := nc.waitOutcome(state)
	if err != nil {
		return err
	}
	if reason != "" && o.Reason != reason {
		return fmt.Errorf("expected reason %q, got %q", reason, o.Reason)
	}
	return nil
}

func (nc *negotiationContext) historyIs(list string) error {
	c, ok := nc.ini.Contract(nc.contractID)
	if !ok {
		return fmt.Errorf("contract %s unknown", nc.contractID)
	}
	got := make([]string, len(c.History))
	for i, s := range c.History {
		got[i] = s.String()
	}
	if strings.Join(got, ", ") != list {
		return fmt.Errorf("expected history %s, got %s", list, strings.Join(got, ", "))
	}
	return nil
}

// InitializeNegotiationScenario registers the contract net steps.
func InitializeNegotiationScenario(sc *godog.ScenarioContext) {
	nc := &negotiationContext{}
	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		nc.reset()
		return ctx, nil
	})
	sc.After(func(ctx context.Context, s *godog.Scenario, err error) (context.Context, error) {
		nc.stop()
		return ctx, nil
	})
	sc.Step(`^scoring weights capacity ([\d.]+), time ([\d.]+) and cost ([\d.]+)$`, nc.scoringWeights)
	sc.Step(`^winners do not acknowledge awards$`, nc.winnersDoNotAcknowledge)
	sc.Step(`^vehicle "([^"]*)" bids an eta of (\d+)ms at cost (\d+)$`, nc.vehicleBids)
	sc.Step(`^vehicle "([^"]*)" stays silent$`, nc.vehicleStaysSilent)
	sc.Step(`^station "([^"]*)" opens a capacity contract with a (\d+)ms window and a cost ceiling of (\d+)$`, nc.stationOpensContract)
	sc.Step(`^"([^"]*)" wins the contract$`, nc.winnerIs)
	sc.Step(`^ACCEPT is sent to "([^"]*)" before REJECT is sent to "([^"]*)"$`, nc.acceptThenReject)
	sc.Step(`^"([^"]*)" reports completion$`, nc.winnerReportsCompletion)
	sc.Step(`^CANCEL is sent to "([^"]*)"$`, nc.cancelSentTo)
	sc.Step(`^the contract ends (DONE|FAILED|ABORTED)$`, func(state string) error { return nc.contractEnds(state, "") })
	sc.Step(`^the contract ends (DONE|FAILED|ABORTED) with "([^"]*)"$`, nc.contractEnds)
	sc.Step(`^the contract went through "([^"]*)"$`, nc.historyIs)
}
