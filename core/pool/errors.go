package pool

import "errors"

var (
	// ErrDoubleRelease is returned when a job that holds nothing is released.
	ErrDoubleRelease = errors.New("job holds no resources")
	// ErrAlreadyReserved is returned when a job id already holds or waits for
	// resources.
	ErrAlreadyReserved = errors.New("job already reserved or queued")
	// ErrUnsatisfiable is returned when a request can never be met by the
	// pool totals.
	ErrUnsatisfiable = errors.New("request exceeds pool totals")
	// ErrInvalidRequest is returned for empty or non-positive requirements.
	ErrInvalidRequest = errors.New("invalid reservation request")
	// ErrNotQueued is returned by Cancel for a job absent from the backlog.
	ErrNotQueued = errors.New("job not queued")
	// ErrWaitExpired is the reason reported when a queued job exceeds its
	// maximum wait or retry budget.
	ErrWaitExpired = errors.New("reservation wait expired")
)
