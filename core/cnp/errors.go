package cnp

import "errors"

var (
	// ErrInvalidTransition is returned for a state change outside the
	// forward-only table.
	ErrInvalidTransition = errors.New("invalid contract transition")
	// ErrContractOpen is returned when the initiator already has a live
	// contract for the same task key.
	ErrContractOpen = errors.New("contract already open for task")
	// ErrUnknownContract is returned for messages naming no known contract.
	ErrUnknownContract = errors.New("unknown contract")
	// ErrLateProposal is returned for proposals received after the collection
	// window closed.
	ErrLateProposal = errors.New("proposal after collection window")
	// ErrDuplicateProposal is returned when a bidder proposes twice.
	ErrDuplicateProposal = errors.New("duplicate proposal")
	// ErrContractEnded is returned for winner reports on a contract that
	// already reached a terminal state, such as a late ACK.
	ErrContractEnded = errors.New("contract already ended")
	// ErrNotWinner is returned when a non-winner reports on a contract.
	ErrNotWinner = errors.New("sender is not the contract winner")
	// ErrBadPayload is returned when a message carries an unexpected payload.
	ErrBadPayload = errors.New("unexpected message payload")
	// ErrClosed is returned by a closed initiator.
	ErrClosed = errors.New("initiator closed")
)
