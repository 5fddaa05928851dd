package cnp

// RetryPolicy relaxes a failed task before it is re-issued under a new
// contract id.
type RetryPolicy struct {
	// MaxAttempts bounds how many contracts one need may open. Zero means a
	// single attempt.
	MaxAttempts int
	// RadiusStep widens the candidate radius per retry.
	RadiusStep int
	// FloorStep lowers the acceptance floor per retry.
	FloorStep float64
}

// DefaultRetryPolicy allows three attempts, widening by 5 cells and lowering
// the floor by 0.1 each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, RadiusStep: 5, FloorStep: 0.1}
}

// Next returns the relaxed task for the following attempt, or false when the
// retry budget is spent and the need must be reported as a terminal failure.
func (r RetryPolicy) Next(t Task) (Task, bool) {
	attempt := t.Attempt
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= r.MaxAttempts {
		return t, false
	}
	t.Attempt = attempt + 1
	t.Radius += r.RadiusStep
	t.Floor -= r.FloorStep
	return t, true
}
