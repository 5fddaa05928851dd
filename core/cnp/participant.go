package cnp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/logger"
)

// Bidder is the local decision logic of a participant. It only sees its own
// state and the CFP.
type Bidder interface {
	// Eligible reports whether the participant should answer the CFP at all.
	Eligible(cfp CallForProposals) bool
	// Bid computes the proposal. ContractID, Bidder and SubmittedAt are
	// filled by the protocol.
	Bid(cfp CallForProposals) Proposal
}

type bidState int

const (
	bidSubmitted bidState = iota
	bidWon
	bidLost
)

type bid struct {
	initiator string
	state     bidState
}

// Participant runs the bidder side of the protocol for one actor.
type Participant struct {
	id     string
	bus    Sender
	bidder Bidder
	log    logger.Logger
	now    func() time.Time

	mu   sync.Mutex
	bids map[string]*bid
}

// NewParticipant creates the participant role for actor id.
func NewParticipant(id string, b Sender, bidder Bidder, log logger.Logger) *Participant {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Participant{id: id, bus: b, bidder: bidder, log: log, now: time.Now, bids: map[string]*bid{}}
}

// SetClock overrides the time source used to drop expired CFPs.
func (p *Participant) SetClock(now func() time.Time) { p.now = now }

// HandleCFP answers a CFP with a proposal when the bidder is eligible.
// Ineligible participants stay silent. It reports whether a bid was sent.
func (p *Participant) HandleCFP(ctx context.Context, msg bus.Message) (bool, error) {
	cfp, ok := msg.Payload.(CallForProposals)
	if !ok {
		return false, fmt.Errorf("%w: %T", ErrBadPayload, msg.Payload)
	}
	if !cfp.Deadline.IsZero() && p.now().After(cfp.Deadline) {
		return false, nil
	}
	p.mu.Lock()
	_, seen := p.bids[cfp.ContractID]
	p.mu.Unlock()
	if seen || !p.bidder.Eligible(cfp) {
		return false, nil
	}
	prop := p.bidder.Bid(cfp)
	prop.ContractID = cfp.ContractID
	prop.Bidder = p.id
	if err := p.bus.Send(ctx, bus.New(bus.TypePropose, p.id, msg.Sender, prop).Correlate(cfp.ContractID)); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.bids[cfp.ContractID] = &bid{initiator: msg.Sender}
	p.mu.Unlock()
	return true, nil
}

// HandleAccept acknowledges an award and returns it so the caller can start
// executing.
func (p *Participant) HandleAccept(ctx context.Context, msg bus.Message) (Award, error) {
	award, ok := msg.Payload.(Award)
	if !ok {
		return Award{}, fmt.Errorf("%w: %T", ErrBadPayload, msg.Payload)
	}
	p.mu.Lock()
	b, ok := p.bids[award.ContractID]
	if ok {
		b.state = bidWon
	}
	p.mu.Unlock()
	if !ok {
		return Award{}, fmt.Errorf("%w: %s", ErrUnknownContract, award.ContractID)
	}
	ack := bus.New(bus.TypeAck, p.id, msg.Sender, Report{ContractID: award.ContractID, Bidder: p.id}).Correlate(award.ContractID)
	if err := p.bus.Send(ctx, ack); err != nil {
		return award, err
	}
	return award, nil
}

// Decline refuses an award the actor can no longer honour. The initiator
// receives FAILURE and aborts the contract.
func (p *Participant) Decline(ctx context.Context, msg bus.Message, reason string) error {
	award, ok := msg.Payload.(Award)
	if !ok {
		return fmt.Errorf("%w: %T", ErrBadPayload, msg.Payload)
	}
	p.mu.Lock()
	b, ok := p.bids[award.ContractID]
	if ok {
		b.state = bidWon
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, award.ContractID)
	}
	return p.Fail(ctx, award.ContractID, reason)
}

// HandleReject forgets a lost bid.
func (p *Participant) HandleReject(msg bus.Message) {
	id := msg.CorrelationID
	if r, ok := msg.Payload.(Rejection); ok {
		id = r.ContractID
	}
	p.mu.Lock()
	delete(p.bids, id)
	p.mu.Unlock()
}

// HandleCancel drops a won contract the initiator aborted. It returns the
// contract id and whether this participant was executing it.
func (p *Participant) HandleCancel(msg bus.Message) (string, bool) {
	id := msg.CorrelationID
	if r, ok := msg.Payload.(Rejection); ok && r.ContractID != "" {
		id = r.ContractID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bids[id]
	if !ok || b.initiator != msg.Sender {
		return id, false
	}
	delete(p.bids, id)
	return id, b.state == bidWon
}

// Complete reports a finished task with INFORM.
func (p *Participant) Complete(ctx context.Context, contractID, detail string) error {
	return p.report(ctx, bus.TypeInform, contractID, detail)
}

// Fail reports an abandoned task with FAILURE.
func (p *Participant) Fail(ctx context.Context, contractID, reason string) error {
	return p.report(ctx, bus.TypeFailure, contractID, reason)
}

// Pending returns the number of bids awaiting a decision.
func (p *Participant) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.bids {
		if b.state == bidSubmitted {
			n++
		}
	}
	return n
}

// Forget drops bids whose contracts will never be answered, for example
// after the collection deadline of a CFP the actor bid on has passed.
func (p *Participant) Forget(contractID string) {
	p.mu.Lock()
	delete(p.bids, contractID)
	p.mu.Unlock()
}

func (p *Participant) report(ctx context.Context, typ bus.MessageType, contractID, detail string) error {
	p.mu.Lock()
	b, ok := p.bids[contractID]
	if ok && b.state != bidWon {
		ok = false
	}
	if ok {
		delete(p.bids, contractID)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s not won by %s", ErrUnknownContract, contractID, p.id)
	}
	msg := bus.New(typ, p.id, b.initiator, Report{ContractID: contractID, Bidder: p.id, Detail: detail}).Correlate(contractID)
	if err := p.bus.Send(ctx, msg); err != nil {
		p.log.Warnf("%s for %s undeliverable: %v", typ, contractID, err)
		return err
	}
	return nil
}
