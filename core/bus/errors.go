package bus

import "errors"

var (
	// ErrDeliveryFailed wraps the last cause once a delivery gives up.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrMailboxFull is transient and retried.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrUnknownRecipient is returned when no mailbox is registered for the id.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrMailboxClosed is returned for deliveries to, or receives from, a
	// closed mailbox.
	ErrMailboxClosed = errors.New("mailbox closed")
	// ErrAlreadyRegistered is returned when an actor id is registered twice.
	ErrAlreadyRegistered = errors.New("actor already registered")
	// ErrNoRecipient is returned by Send for a message without recipient.
	ErrNoRecipient = errors.New("message has no recipient")
)
