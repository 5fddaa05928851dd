package traffic

import "errors"

var (
	// ErrNoHeading is returned for requests without a movement direction.
	ErrNoHeading = errors.New("heading required")
	// ErrNotOccupant is returned when a vehicle releases a segment it does
	// not hold.
	ErrNotOccupant = errors.New("vehicle does not occupy segment")
	// ErrNoPolicy is returned for vehicle classes without a traffic policy.
	ErrNoPolicy = errors.New("no traffic policy for vehicle class")
)
