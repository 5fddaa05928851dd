package cnp

import "fmt"

// State is a contract lifecycle state.
type State int

const (
	Open State = iota
	Collecting
	Evaluating
	Awarded
	Failed
	Executing
	Done
	Aborted
)

var stateNames = [...]string{"OPEN", "COLLECTING", "EVALUATING", "AWARDED", "FAILED", "EXECUTING", "DONE", "ABORTED"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// transitions is the forward-only state table. A winner that never
// acknowledges moves an AWARDED contract straight to ABORTED.
var transitions = map[State][]State{
	Open:       {Collecting},
	Collecting: {Evaluating},
	Evaluating: {Awarded, Failed},
	Awarded:    {Executing, Aborted},
	Executing:  {Done, Aborted},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Failed || s == Done || s == Aborted }
