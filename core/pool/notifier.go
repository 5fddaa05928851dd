package pool

import (
	"context"
	"time"

	"github.com/kilianp07/cityfleet/core/bus"
)

// Grant is the payload of a RESOURCE_GRANTED message.
type Grant struct {
	JobID        string
	Requirements map[string]int
	Waited       time.Duration
}

// Expiry is the payload of a RESOURCE_EXPIRED message.
type Expiry struct {
	JobID  string
	Reason string
}

// Notifier tells a job owner about the fate of a queued reservation.
type Notifier interface {
	Granted(owner string, g Grant)
	Expired(owner string, e Expiry)
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) Granted(string, Grant)  {}
func (NopNotifier) Expired(string, Expiry) {}

// Sender is the part of the bus used by BusNotifier.
type Sender interface {
	Send(ctx context.Context, msg bus.Message) error
}

// BusNotifier delivers notifications as bus messages from the pool.
type BusNotifier struct {
	Bus Sender
	// ID is the sender id used on the bus.
	ID string
	// OnError receives delivery failures. Optional.
	OnError func(error)
}

func (n BusNotifier) Granted(owner string, g Grant) {
	n.send(bus.New(bus.TypeResourceGranted, n.ID, owner, g).Correlate(g.JobID))
}

func (n BusNotifier) Expired(owner string, e Expiry) {
	n.send(bus.New(bus.TypeResourceExpired, n.ID, owner, e).Correlate(e.JobID))
}

func (n BusNotifier) send(msg bus.Message) {
	if err := n.Bus.Send(context.Background(), msg); err != nil && n.OnError != nil {
		n.OnError(err)
	}
}
