// Package cnp implements the Contract Net Protocol on top of the bus: an
// initiator opens contracts and awards them, participants bid and execute.
package cnp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/logger"
	"github.com/kilianp07/cityfleet/core/monitoring"
)

// Sender is the part of the bus used by the protocol roles.
type Sender interface {
	Send(ctx context.Context, msg bus.Message) error
	Broadcast(ctx context.Context, msg bus.Message, recipients []string) []bus.Delivery
}

// Config holds the negotiation timings and scoring policy.
type Config struct {
	// Window is the hard proposal collection timeout.
	Window time.Duration
	// AckGrace is how long the winner has to acknowledge an ACCEPT.
	AckGrace time.Duration
	// ExecutionTimeout aborts an executing contract. Zero disables.
	ExecutionTimeout time.Duration
	Scoring          Scoring
	// Retain is the number of finished contracts kept for queries.
	Retain int
}

// DefaultConfig returns a 10s window, 5s ACK grace and the default scoring.
func DefaultConfig() Config {
	return Config{
		Window:           10 * time.Second,
		AckGrace:         5 * time.Second,
		ExecutionTimeout: 2 * time.Minute,
		Scoring:          DefaultScoring(),
		Retain:           256,
	}
}

// InitiatorOption customizes an Initiator.
type InitiatorOption func(*Initiator)

func WithLogger(l logger.Logger) InitiatorOption     { return func(i *Initiator) { i.log = l } }
func WithEmitter(e events.Emitter) InitiatorOption   { return func(i *Initiator) { i.events = e } }
func WithClock(now func() time.Time) InitiatorOption { return func(i *Initiator) { i.now = now } }

// WithIDs overrides contract id generation.
func WithIDs(next func() string) InitiatorOption { return func(i *Initiator) { i.newID = next } }

// Initiator runs the initiator side of every contract opened by one actor.
// Outcomes are delivered on the channel returned by Outcomes.
type Initiator struct {
	id     string
	bus    Sender
	cfg    Config
	log    logger.Logger
	events events.Emitter
	now    func() time.Time
	newID  func() string

	ctx    context.Context
	cancel context.CancelFunc
	out    chan Outcome

	mu        sync.Mutex
	contracts map[string]*Contract
	live      map[string]string
	timers    map[string]*time.Timer
	finished  []string
	closed    bool
}

// NewInitiator creates the initiator role for actor id.
func NewInitiator(id string, b Sender, cfg Config, opts ...InitiatorOption) *Initiator {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.AckGrace <= 0 {
		cfg.AckGrace = def.AckGrace
	}
	if cfg.Retain <= 0 {
		cfg.Retain = def.Retain
	}
	ctx, cancel := context.WithCancel(context.Background())
	i := &Initiator{
		id:        id,
		bus:       b,
		cfg:       cfg,
		log:       logger.NopLogger{},
		events:    events.NopEmitter{},
		now:       time.Now,
		newID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
		out:       make(chan Outcome, 32),
		contracts: map[string]*Contract{},
		live:      map[string]string{},
		timers:    map[string]*time.Timer{},
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Outcomes delivers awards and terminal results of contracts.
func (i *Initiator) Outcomes() <-chan Outcome { return i.out }

// Open starts a contract for task, sends the CFP to candidates and arms the
// collection window. A second Open for a task key with a live contract fails
// with ErrContractOpen.
func (i *Initiator) Open(ctx context.Context, task Task, candidates []string) (string, error) {
	if task.Attempt < 1 {
		task.Attempt = 1
	}
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return "", ErrClosed
	}
	if id, ok := i.live[task.Key()]; ok {
		i.mu.Unlock()
		return "", fmt.Errorf("%w: %s (%s)", ErrContractOpen, task.Key(), id)
	}
	c := newContract(i.newID(), i.id, task, candidates, i.now(), i.cfg.Window)
	i.contracts[c.ID] = c
	i.live[task.Key()] = c.ID
	opened := c.clone()
	if err := i.transitionLocked(c, Collecting); err != nil {
		i.mu.Unlock()
		return c.ID, err
	}
	collecting := c.clone()
	i.timers[c.ID] = time.AfterFunc(i.cfg.Window, func() { i.evaluate(c.ID) })
	i.mu.Unlock()
	i.emit(opened, "")
	i.emit(collecting, "")

	cfp := CallForProposals{ContractID: c.ID, Initiator: i.id, Task: task, Deadline: c.Deadline}
	msg := bus.New(bus.TypeCFP, i.id, "", cfp).Correlate(c.ID)
	reached := 0
	for _, d := range i.bus.Broadcast(ctx, msg, candidates) {
		if d.OK() {
			reached++
		} else {
			i.log.Warnf("cfp %s not delivered to %s: %v", c.ID, d.Recipient, d.Err)
		}
	}
	if reached == 0 {
		i.log.Debugf("contract %s reached no candidate", c.ID)
		i.evaluate(c.ID)
		return c.ID, nil
	}
	i.log.Debugf("contract %s (%s) collecting from %d candidates", c.ID, task.Key(), reached)
	return c.ID, nil
}

// Handle dispatches a protocol message addressed to the initiator. It
// returns false for message types the initiator does not handle.
func (i *Initiator) Handle(ctx context.Context, msg bus.Message) (bool, error) {
	switch msg.Type {
	case bus.TypePropose:
		return true, i.HandleProposal(msg)
	case bus.TypeAck:
		return true, i.HandleAck(msg)
	case bus.TypeInform:
		return true, i.HandleInform(msg)
	case bus.TypeFailure:
		return true, i.HandleFailure(msg)
	}
	return false, nil
}

// HandleProposal records a proposal while the window is open. The bus
// timestamp of the message is the submission time.
func (i *Initiator) HandleProposal(msg bus.Message) error {
	p, ok := msg.Payload.(Proposal)
	if !ok {
		return fmt.Errorf("%w: %T", ErrBadPayload, msg.Payload)
	}
	if p.ContractID == "" {
		p.ContractID = msg.CorrelationID
	}
	p.Bidder = msg.Sender
	p.SubmittedAt = msg.Timestamp

	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.contracts[p.ContractID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, p.ContractID)
	}
	if c.State != Collecting || i.now().After(c.Deadline) {
		return fmt.Errorf("%w: %s from %s", ErrLateProposal, c.ID, p.Bidder)
	}
	if _, dup := c.Proposals[p.Bidder]; dup {
		err := fmt.Errorf("%w: %s from %s", ErrDuplicateProposal, c.ID, p.Bidder)
		monitoring.Violation("cnp", err)
		return err
	}
	c.Proposals[p.Bidder] = p
	return nil
}

// HandleAck moves an awarded contract to EXECUTING.
func (i *Initiator) HandleAck(msg bus.Message) error {
	c, err := i.fromWinner(msg, Executing, "")
	if err != nil {
		return err
	}
	i.emit(c, "")
	return nil
}

// HandleInform marks an executing contract DONE.
func (i *Initiator) HandleInform(msg bus.Message) error {
	c, err := i.fromWinner(msg, Done, "")
	if err != nil {
		return err
	}
	i.finish(c, "")
	return nil
}

// HandleFailure aborts an executing contract whose winner gave up.
func (i *Initiator) HandleFailure(msg bus.Message) error {
	reason := "winner reported failure"
	if r, ok := msg.Payload.(Report); ok && r.Detail != "" {
		reason = r.Detail
	}
	c, err := i.fromWinner(msg, Aborted, reason)
	if err != nil {
		return err
	}
	i.finish(c, reason)
	return nil
}

// Abort ends a live contract from the initiator side.
func (i *Initiator) Abort(id, reason string) error {
	return i.abort(id, reason)
}

// abort moves the contract to ABORTED. When only is given, the contract must
// currently be in one of those states.
func (i *Initiator) abort(id, reason string, only ...State) error {
	i.mu.Lock()
	c, ok := i.contracts[id]
	if !ok {
		i.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	if len(only) > 0 && !inStates(c.State, only) {
		i.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, c.State)
	}
	if err := i.transitionLocked(c, Aborted); err != nil {
		i.mu.Unlock()
		return err
	}
	c.Reason = reason
	snap := c.clone()
	i.mu.Unlock()
	i.finish(snap, reason)
	i.cancelWinner(snap)
	return nil
}

// cancelWinner tells the winner of a contract aborted from this side to stop
// working on it. Before an award every bidder gets a REJECT instead.
func (i *Initiator) cancelWinner(c Contract) {
	if c.Winner == "" {
		i.rejectAll(c, "")
		return
	}
	msg := bus.New(bus.TypeCancel, i.id, c.Winner, Rejection{ContractID: c.ID, Winner: c.Winner, Reason: c.Reason}).Correlate(c.ID)
	if err := i.bus.Send(i.ctx, msg); err != nil {
		i.log.Warnf("cancel for %s to %s undeliverable: %v", c.ID, c.Winner, err)
	}
}

func inStates(s State, set []State) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

// Contract returns a copy of a contract.
func (i *Initiator) Contract(id string) (Contract, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.contracts[id]
	if !ok {
		return Contract{}, false
	}
	return c.clone(), true
}

// Live returns the id of the live contract for a task key.
func (i *Initiator) Live(key string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	id, ok := i.live[key]
	return id, ok
}

// Close stops all timers and abandons in-flight sends.
func (i *Initiator) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	for id, t := range i.timers {
		t.Stop()
		delete(i.timers, id)
	}
	i.mu.Unlock()
	i.cancel()
}

func (i *Initiator) evaluate(id string) {
	i.mu.Lock()
	c, ok := i.contracts[id]
	if !ok || i.closed || c.State != Collecting {
		i.mu.Unlock()
		return
	}
	if t, ok := i.timers[id]; ok {
		t.Stop()
		delete(i.timers, id)
	}
	if err := i.transitionLocked(c, Evaluating); err != nil {
		i.mu.Unlock()
		return
	}
	evaluating := c.clone()

	now := i.now()
	ps := make([]Proposal, 0, len(c.Proposals))
	for _, p := range c.Proposals {
		if p.Validity > 0 && p.SubmittedAt.Add(p.Validity).Before(now) {
			continue
		}
		ps = append(ps, p)
	}
	ranked := i.cfg.Scoring.Rank(ps, c.Task, i.cfg.Window)
	if len(ranked) == 0 {
		reason := "no proposals"
		if len(c.Proposals) > 0 {
			reason = "no proposal above acceptance floor"
		}
		_ = i.transitionLocked(c, Failed)
		c.Reason = reason
		failed := c.clone()
		i.mu.Unlock()
		i.emit(evaluating, "")
		i.finish(failed, reason)
		i.rejectAll(failed, "")
		return
	}

	best := ranked[0]
	c.Winner = best.Proposal.Bidder
	c.Score = best.Score
	_ = i.transitionLocked(c, Awarded)
	i.timers[id] = time.AfterFunc(i.cfg.AckGrace, func() { i.ackExpired(id) })
	awarded := c.clone()
	i.mu.Unlock()
	i.emit(evaluating, "")
	i.emit(awarded, "")
	i.log.Infof("contract %s awarded to %s (score %.3f, %d proposals)", id, awarded.Winner, best.Score, len(awarded.Proposals))

	award := Award{ContractID: id, Initiator: i.id, Task: awarded.Task, Proposal: best.Proposal}
	if err := i.bus.Send(i.ctx, bus.New(bus.TypeAccept, i.id, awarded.Winner, award).Correlate(id)); err != nil {
		i.log.Warnf("accept for %s undeliverable: %v", id, err)
		_ = i.abort(id, "accept undeliverable", Awarded)
	} else {
		i.deliver(Outcome{ContractID: id, Task: awarded.Task, State: Awarded, Winner: awarded.Winner})
	}
	i.rejectAll(awarded, awarded.Winner)
}

// rejectAll sends REJECT to every bidder except the winner, in bidder order.
func (i *Initiator) rejectAll(c Contract, winner string) {
	for _, bidder := range c.Bidders() {
		if bidder == winner {
			continue
		}
		rej := bus.New(bus.TypeReject, i.id, bidder, Rejection{ContractID: c.ID, Winner: winner}).Correlate(c.ID)
		if err := i.bus.Send(i.ctx, rej); err != nil {
			i.log.Warnf("reject for %s to %s undeliverable: %v", c.ID, bidder, err)
		}
	}
}

func (i *Initiator) ackExpired(id string) {
	i.mu.Lock()
	c, ok := i.contracts[id]
	if !ok {
		i.mu.Unlock()
		return
	}
	winner := c.Winner
	i.mu.Unlock()
	if err := i.abort(id, "ack grace expired", Awarded); err == nil {
		i.log.Warnf("contract %s aborted: %s did not acknowledge", id, winner)
	}
}

func (i *Initiator) fromWinner(msg bus.Message, to State, reason string) (Contract, error) {
	id := msg.CorrelationID
	if r, ok := msg.Payload.(Report); ok && r.ContractID != "" {
		id = r.ContractID
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.contracts[id]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	if c.Winner != msg.Sender {
		return Contract{}, fmt.Errorf("%w: %s on %s", ErrNotWinner, msg.Sender, id)
	}
	if c.State.Terminal() {
		return Contract{}, fmt.Errorf("%w: %s is %s", ErrContractEnded, id, c.State)
	}
	if err := i.transitionLocked(c, to); err != nil {
		return Contract{}, err
	}
	c.Reason = reason
	if t, ok := i.timers[id]; ok {
		t.Stop()
		delete(i.timers, id)
	}
	if to == Executing && i.cfg.ExecutionTimeout > 0 {
		i.timers[id] = time.AfterFunc(i.cfg.ExecutionTimeout, func() {
			if err := i.abort(id, "execution deadline exceeded", Executing); err == nil {
				i.log.Warnf("contract %s aborted: execution deadline exceeded", id)
			}
		})
	}
	return c.clone(), nil
}

// transitionLocked applies a checked transition and releases the task key
// once the contract is terminal.
func (i *Initiator) transitionLocked(c *Contract, to State) error {
	if err := c.transition(to); err != nil {
		monitoring.Violation("cnp", err)
		return err
	}
	if to.Terminal() {
		if i.live[c.Task.Key()] == c.ID {
			delete(i.live, c.Task.Key())
		}
		if t, ok := i.timers[c.ID]; ok {
			t.Stop()
			delete(i.timers, c.ID)
		}
		i.finished = append(i.finished, c.ID)
		for len(i.finished) > i.cfg.Retain {
			delete(i.contracts, i.finished[0])
			i.finished = i.finished[1:]
		}
	}
	return nil
}

func (i *Initiator) finish(c Contract, reason string) {
	i.emit(c, reason)
	i.deliver(Outcome{ContractID: c.ID, Task: c.Task, State: c.State, Winner: c.Winner, Reason: reason})
}

func (i *Initiator) deliver(o Outcome) {
	select {
	case i.out <- o:
	case <-i.ctx.Done():
	}
}

func (i *Initiator) emit(c Contract, reason string) {
	if reason == "" {
		reason = c.Reason
	}
	i.events.Publish(events.ContractEvent{
		ContractID: c.ID,
		Initiator:  c.Initiator,
		Task:       c.Task.Key(),
		State:      c.State.String(),
		Winner:     c.Winner,
		Score:      c.Score,
		Proposals:  len(c.Proposals),
		Attempt:    c.Task.Attempt,
		Reason:     reason,
		Time:       i.now(),
	})
}

// IsProtocolError reports whether err is a negotiation-level rejection that
// the caller may log and drop.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrLateProposal) || errors.Is(err, ErrUnknownContract) ||
		errors.Is(err, ErrDuplicateProposal) || errors.Is(err, ErrNotWinner) ||
		errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrContractEnded)
}
