package bus

import (
	"context"
	"sync"
)

// Mailbox is the inbound queue of one actor. Only the owning actor reads it.
type Mailbox struct {
	owner  string
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

func newMailbox(owner string, size int) *Mailbox {
	return &Mailbox{owner: owner, ch: make(chan Message, size)}
}

// Owner returns the actor id the mailbox belongs to.
func (m *Mailbox) Owner() string { return m.owner }

// C exposes the mailbox channel for use in select loops. The channel is
// closed when the mailbox is unregistered.
func (m *Mailbox) C() <-chan Message { return m.ch }

// Receive returns the next message, blocking until one is available, the
// context is done, or the mailbox is closed.
func (m *Mailbox) Receive(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-m.ch:
		if !ok {
			return Message{}, ErrMailboxClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int { return len(m.ch) }

// Cap returns the mailbox capacity.
func (m *Mailbox) Cap() int { return cap(m.ch) }

func (m *Mailbox) put(msg Message) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrMailboxClosed
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (m *Mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
