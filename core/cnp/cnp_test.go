package cnp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/model"
)

func TestTransitionTable(t *testing.T) {
	forward := [][2]State{
		{Open, Collecting}, {Collecting, Evaluating}, {Evaluating, Awarded}, {Evaluating, Failed},
		{Awarded, Executing}, {Awarded, Aborted}, {Executing, Done}, {Executing, Aborted},
	}
	for _, tr := range forward {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	illegal := [][2]State{
		{Collecting, Open}, {Open, Evaluating}, {Collecting, Awarded}, {Awarded, Done},
		{Failed, Collecting}, {Done, Executing}, {Aborted, Open}, {Executing, Awarded},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	for _, s := range []State{Failed, Done, Aborted} {
		assert.True(t, s.Terminal())
	}
	assert.Equal(t, "EVALUATING", Evaluating.String())
}

func TestContractRejectsBackwardTransition(t *testing.T) {
	c := newContract("c", "S", Task{Kind: TaskCapacity}, nil, time.Now(), time.Second)
	require.NoError(t, c.transition(Collecting))
	assert.ErrorIs(t, c.transition(Open), ErrInvalidTransition)
	assert.Equal(t, []State{Open, Collecting}, c.History)
}

func TestScoreTerms(t *testing.T) {
	s := Scoring{Weights: Weights{Capacity: 0, Time: 1, Cost: 0}, CostCeiling: 100}
	window := 10 * time.Second
	assert.InDelta(t, 0.7, s.Score(Proposal{ETA: 3 * time.Second}, Task{}, window), 1e-9)
	assert.Less(t, s.Score(Proposal{ETA: 15 * time.Second}, Task{}, window), 0.0)

	s = Scoring{Weights: Weights{Cost: 1}, CostCeiling: 100}
	assert.InDelta(t, 0.9, s.Score(Proposal{Cost: 10}, Task{}, window), 1e-9)
	assert.InDelta(t, 0.5, s.Score(Proposal{Cost: 10}, Task{MaxCost: 20}, window), 1e-9)
	assert.Equal(t, 0.0, s.Score(Proposal{Cost: 500}, Task{}, window))

	s = Scoring{Weights: Weights{Capacity: 1}, CapacityScale: 30}
	assert.InDelta(t, 0.5, s.Score(Proposal{Capacity: 15}, Task{}, window), 1e-9)
	assert.Equal(t, 1.0, s.Score(Proposal{Capacity: 60}, Task{}, window))
}

func TestRankOrdering(t *testing.T) {
	s := Scoring{Weights: Weights{Time: 0.4, Cost: 0.3}, CostCeiling: 100}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 10 * time.Second

	better := Proposal{Bidder: "Z", ETA: time.Second, Cost: 10, SubmittedAt: t0.Add(time.Second)}
	worse := Proposal{Bidder: "A", ETA: 5 * time.Second, Cost: 10, SubmittedAt: t0}
	r := s.Rank([]Proposal{worse, better}, Task{}, window)
	assert.Equal(t, "Z", r[0].Proposal.Bidder, "higher score wins")

	early := Proposal{Bidder: "Z", ETA: time.Second, Cost: 10, SubmittedAt: t0}
	late := Proposal{Bidder: "A", ETA: time.Second, Cost: 10, SubmittedAt: t0.Add(time.Millisecond)}
	r = s.Rank([]Proposal{late, early}, Task{}, window)
	assert.Equal(t, "Z", r[0].Proposal.Bidder, "earlier submission wins ties")

	b := Proposal{Bidder: "V2", ETA: time.Second, Cost: 10, SubmittedAt: t0}
	a := Proposal{Bidder: "V1", ETA: time.Second, Cost: 10, SubmittedAt: t0}
	r = s.Rank([]Proposal{b, a}, Task{}, window)
	assert.Equal(t, "V1", r[0].Proposal.Bidder, "lower id wins full ties")

	r = s.Rank([]Proposal{a, b}, Task{Floor: 0.9}, window)
	assert.Empty(t, r)
}

func TestCheaperBidWinsWithTiedCapacity(t *testing.T) {
	cfg := fastConfig()
	cfg.Scoring = Scoring{Weights: Weights{Capacity: 0, Time: 0.4, Cost: 0.3}, CostCeiling: 100}
	cfg.Window = 10 * time.Second
	h := newHarness(t, cfg)

	v1 := h.addVehicle("V1", stubBidder{eligible: true, prop: Proposal{ETA: 3 * time.Second, Cost: 10}}, true)
	v2 := h.addVehicle("V2", stubBidder{eligible: true, prop: Proposal{ETA: 5 * time.Second, Cost: 4}}, true)

	id, err := h.ini.Open(context.Background(), Task{Kind: TaskCapacity, Capacity: 20, MaxCost: 20}, []string{"V1", "V2"})
	require.NoError(t, err)
	v1.waitFor(t, bus.TypeCFP)
	v2.waitFor(t, bus.TypeCFP)

	require.Eventually(t, func() bool {
		c, _ := h.ini.Contract(id)
		return len(c.Proposals) == 2
	}, time.Second, 5*time.Millisecond)
	h.ini.evaluate(id)

	o := h.outcome(Awarded)
	assert.Equal(t, "V2", o.Winner)
	v2.waitFor(t, bus.TypeAccept)
	v1.waitFor(t, bus.TypeReject)

	decisions := h.sender.ofType(bus.TypeAccept, bus.TypeReject)
	require.Len(t, decisions, 2)
	assert.Equal(t, bus.TypeAccept, decisions[0].Type)
	assert.Equal(t, "V2", decisions[0].Recipient)
	assert.Equal(t, bus.TypeReject, decisions[1].Type)
	assert.Equal(t, "V1", decisions[1].Recipient)
}

func TestFullLifecycleReachesDone(t *testing.T) {
	rec := &events.MemoryRecorder{}
	h := newHarness(t, fastConfig(), WithEmitter(rec))
	v := h.addVehicle("C1", stubBidder{eligible: true, prop: Proposal{ETA: 10 * time.Millisecond, Cost: 5}}, true)

	id, err := h.ini.Open(context.Background(), Task{Kind: TaskRepair, Fault: "tire", Location: model.C(3, 3)}, []string{"C1"})
	require.NoError(t, err)
	award := <-v.awards
	assert.Equal(t, id, award.ContractID)
	assert.Equal(t, "tire", award.Task.Fault)

	require.Eventually(t, func() bool {
		c, _ := h.ini.Contract(id)
		return c.State == Executing
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, v.part.Complete(context.Background(), id, "repaired"))

	o := h.outcome(Done)
	assert.Equal(t, "C1", o.Winner)
	c, ok := h.ini.Contract(id)
	require.True(t, ok)
	assert.Equal(t, []State{Open, Collecting, Evaluating, Awarded, Executing, Done}, c.History)

	var states []string
	for _, ce := range rec.Contracts(id) {
		states = append(states, ce.State)
	}
	assert.Equal(t, []string{"OPEN", "COLLECTING", "EVALUATING", "AWARDED", "EXECUTING", "DONE"}, states)
	_, live := h.ini.Live("repair:tire")
	assert.False(t, live)
}

func TestZeroProposalsFails(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.addVehicle("V1", stubBidder{eligible: false}, true)

	id, err := h.ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1"})
	require.NoError(t, err)
	o := h.outcome(Failed)
	assert.Equal(t, id, o.ContractID)
	assert.Equal(t, "no proposals", o.Reason)
	assert.Empty(t, h.sender.ofType(bus.TypePropose), "ineligible participants stay silent")

	c, _ := h.ini.Contract(id)
	assert.Equal(t, []State{Open, Collecting, Evaluating, Failed}, c.History)
}

func TestUnreachableCandidatesFailImmediately(t *testing.T) {
	cfg := fastConfig()
	cfg.Window = time.Hour
	h := newHarness(t, cfg)
	_, err := h.ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"ghost"})
	require.NoError(t, err)
	h.outcome(Failed)
}

func TestOneLiveContractPerTask(t *testing.T) {
	cfg := fastConfig()
	cfg.Window = time.Hour
	h := newHarness(t, cfg)
	h.addVehicle("V1", stubBidder{eligible: false}, true)

	id, err := h.ini.Open(context.Background(), Task{Kind: TaskRepair, Fault: "tire"}, []string{"V1"})
	require.NoError(t, err)
	_, err = h.ini.Open(context.Background(), Task{Kind: TaskRepair, Fault: "tire"}, []string{"V1"})
	assert.ErrorIs(t, err, ErrContractOpen)
	_, err = h.ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1"})
	assert.NoError(t, err)

	h.ini.evaluate(id)
	h.outcome(Failed)
	next, err := h.ini.Open(context.Background(), Task{Kind: TaskRepair, Fault: "tire", Attempt: 2}, []string{"V1"})
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
}

func TestLateDuplicateAndUnknownProposals(t *testing.T) {
	cfg := fastConfig()
	cfg.Window = time.Hour
	b := bus.NewBus(bus.Config{Attempts: 1, MailboxSize: 8})
	for _, id := range []string{"V1", "V2"} {
		_, err := b.Register(id)
		require.NoError(t, err)
	}
	n := 0
	ini := NewInitiator("S", b, cfg, WithIDs(func() string { n++; return fmt.Sprintf("c%d", n) }))
	defer ini.Close()

	id, err := ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1", "V2"})
	require.NoError(t, err)
	assert.Equal(t, "c1", id)

	prop := func(from, contract string) bus.Message {
		return bus.Message{Type: bus.TypePropose, Sender: from, Timestamp: time.Now(), Payload: Proposal{ContractID: contract}}
	}
	require.NoError(t, ini.HandleProposal(prop("V1", id)))
	assert.ErrorIs(t, ini.HandleProposal(prop("V1", id)), ErrDuplicateProposal)
	assert.ErrorIs(t, ini.HandleProposal(prop("V1", "nope")), ErrUnknownContract)

	ini.evaluate(id)
	err = ini.HandleProposal(prop("V2", id))
	assert.ErrorIs(t, err, ErrLateProposal)
	assert.True(t, IsProtocolError(err))
	c, _ := ini.Contract(id)
	assert.Len(t, c.Proposals, 1)

	_, err = ini.Handle(context.Background(), bus.Message{Type: bus.TypePropose, Sender: "V1", Payload: "junk"})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestMissingAckAborts(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.addVehicle("V1", stubBidder{eligible: true, prop: Proposal{ETA: time.Millisecond, Cost: 1}}, false)

	id, err := h.ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1"})
	require.NoError(t, err)
	o := h.outcome(Aborted)
	assert.Equal(t, "ack grace expired", o.Reason)
	c, _ := h.ini.Contract(id)
	assert.Equal(t, []State{Open, Collecting, Evaluating, Awarded, Aborted}, c.History)
}

func TestFailureFromWinnerAborts(t *testing.T) {
	h := newHarness(t, fastConfig())
	v := h.addVehicle("V1", stubBidder{eligible: true, prop: Proposal{ETA: time.Millisecond}}, true)

	id, err := h.ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1"})
	require.NoError(t, err)
	<-v.awards
	require.Eventually(t, func() bool {
		c, _ := h.ini.Contract(id)
		return c.State == Executing
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, v.part.Fail(context.Background(), id, "breakdown en route"))
	o := h.outcome(Aborted)
	assert.Equal(t, "breakdown en route", o.Reason)
	assert.Error(t, v.part.Complete(context.Background(), id, ""), "report after failure")
}

func TestReportFromNonWinnerIsRejected(t *testing.T) {
	cfg := fastConfig()
	cfg.Window = time.Hour
	b := bus.NewBus(bus.Config{Attempts: 1, MailboxSize: 8})
	_, err := b.Register("V1")
	require.NoError(t, err)
	ini := NewInitiator("S", b, cfg)
	defer ini.Close()
	id, err := ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1"})
	require.NoError(t, err)
	require.NoError(t, ini.HandleProposal(bus.Message{Sender: "V1", Timestamp: time.Now(), Payload: Proposal{ContractID: id}}))
	ini.evaluate(id)

	err = ini.HandleInform(bus.Message{Sender: "V9", CorrelationID: id, Payload: Report{ContractID: id}})
	assert.ErrorIs(t, err, ErrNotWinner)
	err = ini.HandleInform(bus.Message{Sender: "V1", CorrelationID: id, Payload: Report{ContractID: id}})
	assert.ErrorIs(t, err, ErrInvalidTransition, "INFORM before ACK")
}

func TestFloorRejectsAllBids(t *testing.T) {
	h := newHarness(t, fastConfig())
	v := h.addVehicle("V1", stubBidder{eligible: true, prop: Proposal{ETA: 9 * time.Second, Cost: 90}}, true)

	_, err := h.ini.Open(context.Background(), Task{Kind: TaskCapacity, Floor: 0.9}, []string{"V1"})
	require.NoError(t, err)
	o := h.outcome(Failed)
	assert.Equal(t, "no proposal above acceptance floor", o.Reason)
	v.waitFor(t, bus.TypeReject)
	assert.Eventually(t, func() bool { return v.part.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRetryPolicyRelaxesAndStops(t *testing.T) {
	r := RetryPolicy{MaxAttempts: 3, RadiusStep: 5, FloorStep: 0.1}
	task := Task{Kind: TaskRepair, Radius: 5, Floor: 0.2, Attempt: 1}

	next, ok := r.Next(task)
	require.True(t, ok)
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, 10, next.Radius)
	assert.InDelta(t, 0.1, next.Floor, 1e-9)

	next, ok = r.Next(next)
	require.True(t, ok)
	assert.Equal(t, 3, next.Attempt)

	_, ok = r.Next(next)
	assert.False(t, ok, "budget spent")
}

func TestParticipantIgnoresExpiredCFP(t *testing.T) {
	b := bus.NewBus(bus.Config{Attempts: 1, MailboxSize: 8})
	_, err := b.Register("S")
	require.NoError(t, err)
	p := NewParticipant("V1", b, stubBidder{eligible: true}, nil)
	msg := bus.Message{Type: bus.TypeCFP, Sender: "S", Payload: CallForProposals{ContractID: "c", Deadline: time.Now().Add(-time.Second)}}
	sent, err := p.HandleCFP(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, sent)

	msg.Payload = CallForProposals{ContractID: "c", Deadline: time.Now().Add(time.Minute)}
	sent, err = p.HandleCFP(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = p.HandleCFP(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, sent, "one bid per contract")
	assert.Equal(t, 1, p.Pending())
}

func TestCloseStopsTimers(t *testing.T) {
	cfg := fastConfig()
	b := bus.NewBus(bus.Config{Attempts: 1, MailboxSize: 8})
	_, err := b.Register("V1")
	require.NoError(t, err)
	ini := NewInitiator("S", b, cfg)
	_, err = ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1"})
	require.NoError(t, err)
	ini.Close()
	time.Sleep(3 * cfg.Window)
	select {
	case o := <-ini.Outcomes():
		t.Fatalf("unexpected outcome %+v", o)
	default:
	}
	_, err = ini.Open(context.Background(), Task{Kind: TaskRepair}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAckGraceCancelsWinner(t *testing.T) {
	h := newHarness(t, fastConfig())
	v := h.addVehicle("V1", stubBidder{eligible: true, prop: Proposal{ETA: time.Millisecond, Cost: 1}}, false)

	id, err := h.ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1"})
	require.NoError(t, err)
	h.outcome(Aborted)

	msg := v.waitFor(t, bus.TypeCancel)
	assert.Equal(t, id, msg.CorrelationID)
	rej, ok := msg.Payload.(Rejection)
	require.True(t, ok)
	assert.Equal(t, "ack grace expired", rej.Reason)

	// The ACK arrives after the grace period.
	late := bus.New(bus.TypeAck, "V1", "S", Report{ContractID: id, Bidder: "V1"}).Correlate(id)
	err = h.ini.HandleAck(late)
	assert.ErrorIs(t, err, ErrContractEnded)
	assert.True(t, IsProtocolError(err))
}

func TestExecutionDeadlineCancelsWinner(t *testing.T) {
	cfg := fastConfig()
	cfg.ExecutionTimeout = 30 * time.Millisecond
	h := newHarness(t, cfg)
	v := h.addVehicle("V1", stubBidder{eligible: true, prop: Proposal{ETA: time.Millisecond}}, true)

	id, err := h.ini.Open(context.Background(), Task{Kind: TaskCapacity}, []string{"V1"})
	require.NoError(t, err)
	<-v.awards
	o := h.outcome(Aborted)
	assert.Equal(t, "execution deadline exceeded", o.Reason)

	msg := v.waitFor(t, bus.TypeCancel)
	got, won := v.part.HandleCancel(msg)
	assert.Equal(t, id, got)
	assert.True(t, won)
	assert.Error(t, v.part.Complete(context.Background(), id, "done anyway"))
}

func TestCancelFromStrangerIsIgnored(t *testing.T) {
	b := bus.NewBus(bus.Config{Attempts: 1, MailboxSize: 8})
	_, err := b.Register("S")
	require.NoError(t, err)
	p := NewParticipant("V1", b, stubBidder{eligible: true}, nil)
	cfp := bus.New(bus.TypeCFP, "S", "V1", CallForProposals{ContractID: "c1", Task: Task{Kind: TaskCapacity}}).Correlate("c1")
	sent, err := p.HandleCFP(context.Background(), cfp)
	require.NoError(t, err)
	require.True(t, sent)

	_, won := p.HandleCancel(bus.New(bus.TypeCancel, "X", "V1", Rejection{ContractID: "c1"}).Correlate("c1"))
	assert.False(t, won)
	assert.Equal(t, 1, p.Pending())
}
