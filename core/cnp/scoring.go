package cnp

import (
	"math"
	"sort"
	"time"
)

// Weights of the proposal score terms. They are policy, not constants.
type Weights struct {
	Capacity float64
	Time     float64
	Cost     float64
}

// Scoring evaluates proposals as a weighted sum of capacity, arrival time and
// cost terms.
type Scoring struct {
	Weights Weights
	// CostCeiling normalises cost when the task sets no MaxCost.
	CostCeiling float64
	// CapacityScale is the capacity counted as a full capacity term.
	CapacityScale int
}

// DefaultScoring returns weights 0.3/0.4/0.3 and a cost ceiling of 100.
func DefaultScoring() Scoring {
	return Scoring{Weights: Weights{Capacity: 0.3, Time: 0.4, Cost: 0.3}, CostCeiling: 100, CapacityScale: 30}
}

// Score rates p for task against a collection window. Arrivals later than
// the window score a negative time term.
func (s Scoring) Score(p Proposal, task Task, window time.Duration) float64 {
	capTerm := 0.0
	switch {
	case s.CapacityScale > 0:
		capTerm = math.Min(1, float64(p.Capacity)/float64(s.CapacityScale))
	case p.Capacity > 0:
		capTerm = 1
	}

	timeTerm := 0.0
	if window > 0 {
		timeTerm = 1 - p.ETA.Seconds()/window.Seconds()
	}

	ceiling := task.MaxCost
	if ceiling <= 0 {
		ceiling = s.CostCeiling
	}
	costTerm := 0.0
	if ceiling > 0 {
		costTerm = math.Max(0, 1-p.Cost/ceiling)
	}
	return s.Weights.Capacity*capTerm + s.Weights.Time*timeTerm + s.Weights.Cost*costTerm
}

// Ranked is a proposal with its score.
type Ranked struct {
	Proposal Proposal
	Score    float64
}

// Rank orders proposals best first: higher score, then earlier submission,
// then lower bidder id. Proposals scoring below task.Floor are dropped.
func (s Scoring) Rank(ps []Proposal, task Task, window time.Duration) []Ranked {
	out := make([]Ranked, 0, len(ps))
	for _, p := range ps {
		sc := s.Score(p, task, window)
		if sc < task.Floor {
			continue
		}
		out = append(out, Ranked{Proposal: p, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Proposal.SubmittedAt.Equal(b.Proposal.SubmittedAt) {
			return a.Proposal.SubmittedAt.Before(b.Proposal.SubmittedAt)
		}
		return a.Proposal.Bidder < b.Proposal.Bidder
	})
	return out
}
