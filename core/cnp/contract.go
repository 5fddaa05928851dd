package cnp

import (
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/cityfleet/core/model"
)

// Task kinds.
const (
	TaskCapacity = "capacity"
	TaskRepair   = "repair"
)

// Task describes the work being negotiated.
type Task struct {
	Kind     string
	Location model.Cell
	// Capacity is the number of seats asked for a capacity task.
	Capacity int
	// Fault and Requirements describe a repair task.
	Fault        string
	Requirements map[string]int
	Urgency      float64
	// MaxCost normalises the cost term. Zero uses the configured ceiling.
	MaxCost float64
	// Floor is the minimum acceptable score.
	Floor float64
	// Radius is the candidate radius used to select bidders.
	Radius int
	// Attempt counts re-issues of the same need, starting at 1.
	Attempt int
}

// Key identifies the initiator-task pair; only one live contract may exist
// per key.
func (t Task) Key() string {
	if t.Kind == TaskRepair {
		return t.Kind + ":" + t.Fault
	}
	return t.Kind
}

// Proposal is a bid. It is immutable once received.
type Proposal struct {
	ContractID string
	Bidder     string
	ETA        time.Duration
	Capacity   int
	Cost       float64
	// Validity bounds how long the bid holds. Zero means until evaluation.
	Validity    time.Duration
	SubmittedAt time.Time
}

// Contract is one negotiation instance. Ids are never reused.
type Contract struct {
	ID         string
	Initiator  string
	Task       Task
	Candidates []string
	OpenedAt   time.Time
	Deadline   time.Time
	State      State
	Proposals  map[string]Proposal
	Winner     string
	Score      float64
	Reason     string
	History    []State
}

func newContract(id, initiator string, task Task, candidates []string, now time.Time, window time.Duration) *Contract {
	return &Contract{
		ID:         id,
		Initiator:  initiator,
		Task:       task,
		Candidates: append([]string(nil), candidates...),
		OpenedAt:   now,
		Deadline:   now.Add(window),
		State:      Open,
		Proposals:  map[string]Proposal{},
		History:    []State{Open},
	}
}

func (c *Contract) transition(to State) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, c.ID, c.State, to)
	}
	c.State = to
	c.History = append(c.History, to)
	return nil
}

// clone returns a deep copy safe to hand out.
func (c *Contract) clone() Contract {
	cp := *c
	cp.Candidates = append([]string(nil), c.Candidates...)
	cp.History = append([]State(nil), c.History...)
	cp.Proposals = make(map[string]Proposal, len(c.Proposals))
	for k, v := range c.Proposals {
		cp.Proposals[k] = v
	}
	return cp
}

// Bidders returns proposal senders in sorted order.
func (c Contract) Bidders() []string {
	out := make([]string, 0, len(c.Proposals))
	for id := range c.Proposals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CallForProposals is the CFP payload.
type CallForProposals struct {
	ContractID string
	Initiator  string
	Task       Task
	Deadline   time.Time
}

// Award is the ACCEPT payload.
type Award struct {
	ContractID string
	Initiator  string
	Task       Task
	Proposal   Proposal
}

// Rejection is the payload of REJECT and CANCEL.
type Rejection struct {
	ContractID string
	Winner     string
	Reason     string
}

// Report is the payload of ACK, INFORM and FAILURE.
type Report struct {
	ContractID string
	Bidder     string
	Detail     string
}

// Outcome is reported to the initiating actor when a contract ends or is
// awarded.
type Outcome struct {
	ContractID string
	Task       Task
	State      State
	Winner     string
	Reason     string
}
