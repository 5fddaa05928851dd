package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/logger"
)

// Config controls delivery retries and mailbox sizing.
type Config struct {
	// Attempts is the total number of delivery attempts per recipient.
	Attempts int
	// Interval is the pause between two attempts.
	Interval time.Duration
	// MailboxSize is the capacity of every mailbox.
	MailboxSize int
}

// DefaultConfig returns 10 attempts 50ms apart and 64-slot mailboxes.
func DefaultConfig() Config {
	return Config{Attempts: 10, Interval: 50 * time.Millisecond, MailboxSize: 64}
}

// Delivery is the outcome of delivering one message to one recipient.
type Delivery struct {
	MessageID string
	Recipient string
	Attempts  int
	Err       error
}

// OK reports whether the message reached the recipient's mailbox.
func (d Delivery) OK() bool { return d.Err == nil }

// Stats is a point-in-time view of the bus.
type Stats struct {
	Registered int
	Sent       uint64
	Delivered  uint64
	Failed     uint64
	Retries    uint64
	QueueSizes map[string]int
}

// Option customizes a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l logger.Logger) Option { return func(b *Bus) { b.log = l } }

// WithEmitter sets where delivery failures are reported.
func WithEmitter(e events.Emitter) Option { return func(b *Bus) { b.events = e } }

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(b *Bus) { b.now = now } }

// Bus routes messages between registered mailboxes. It carries no business
// logic. Every simulation owns its own Bus instance.
type Bus struct {
	cfg    Config
	log    logger.Logger
	events events.Emitter
	now    func() time.Time

	mu        sync.RWMutex
	mailboxes map[string]*Mailbox

	lanesMu sync.Mutex
	lanes   map[string]*sync.Mutex

	sent      atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

// NewBus creates a bus. Zero config fields fall back to DefaultConfig.
func NewBus(cfg Config, opts ...Option) *Bus {
	def := DefaultConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Interval < 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	b := &Bus{
		cfg:       cfg,
		log:       logger.NopLogger{},
		events:    events.NopEmitter{},
		now:       time.Now,
		mailboxes: make(map[string]*Mailbox),
		lanes:     make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register creates the mailbox for an actor id.
func (b *Bus) Register(actorID string) (*Mailbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mailboxes[actorID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, actorID)
	}
	mb := newMailbox(actorID, b.cfg.MailboxSize)
	b.mailboxes[actorID] = mb
	registeredActors.Set(float64(len(b.mailboxes)))
	return mb, nil
}

// Unregister closes and removes an actor's mailbox. Queued messages are lost
// to the owner; later sends fail with ErrUnknownRecipient.
func (b *Bus) Unregister(actorID string) {
	b.mu.Lock()
	mb, ok := b.mailboxes[actorID]
	delete(b.mailboxes, actorID)
	registeredActors.Set(float64(len(b.mailboxes)))
	b.mu.Unlock()
	if ok {
		mb.close()
	}
}

// Registered reports whether a mailbox exists for the id.
func (b *Bus) Registered(actorID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[actorID]
	return ok
}

// Receive blocks until the actor's next message is available.
func (b *Bus) Receive(ctx context.Context, actorID string) (Message, error) {
	b.mu.RLock()
	mb, ok := b.mailboxes[actorID]
	b.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownRecipient, actorID)
	}
	return mb.Receive(ctx)
}

// Send delivers msg to msg.Recipient. It returns nil once the message is in
// the recipient's mailbox, or an error wrapping ErrDeliveryFailed after the
// configured attempts are exhausted.
func (b *Bus) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrNoRecipient
	}
	msg = b.stamp(msg)
	return b.deliverInLane(ctx, msg).Err
}

// Broadcast delivers a copy of msg to every recipient. All copies share the
// same message id. Failures are reported per recipient; one unreachable
// recipient does not affect the others. The result follows the order of
// recipients.
func (b *Bus) Broadcast(ctx context.Context, msg Message, recipients []string) []Delivery {
	msg = b.stamp(msg)
	out := make([]Delivery, len(recipients))
	var wg sync.WaitGroup
	for i, r := range recipients {
		wg.Add(1)
		go func(i int, r string) {
			defer wg.Done()
			out[i] = b.deliverInLane(ctx, msg.To(r))
		}(i, r)
	}
	wg.Wait()
	return out
}

// Failed returns the deliveries of a broadcast that did not succeed.
func Failed(ds []Delivery) []Delivery {
	var out []Delivery
	for _, d := range ds {
		if !d.OK() {
			out = append(out, d)
		}
	}
	return out
}

// Stats returns counters and per-mailbox queue sizes.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	sizes := make(map[string]int, len(b.mailboxes))
	for id, mb := range b.mailboxes {
		sizes[id] = mb.Len()
	}
	b.mu.RUnlock()
	return Stats{
		Registered: len(sizes),
		Sent:       b.sent.Load(),
		Delivered:  b.delivered.Load(),
		Failed:     b.failed.Load(),
		Retries:    b.retries.Load(),
		QueueSizes: sizes,
	}
}

// Actors returns the registered actor ids in sorted order.
func (b *Bus) Actors() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.mailboxes))
	for id := range b.mailboxes {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close closes every mailbox.
func (b *Bus) Close() {
	b.mu.Lock()
	boxes := b.mailboxes
	b.mailboxes = make(map[string]*Mailbox)
	registeredActors.Set(0)
	b.mu.Unlock()
	for _, mb := range boxes {
		mb.close()
	}
}

func (b *Bus) stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}
	return msg
}

// lane serializes deliveries from one sender to one recipient. A recipient
// with a full mailbox only holds back its own lane.
func (b *Bus) lane(sender, recipient string) *sync.Mutex {
	key := sender + "\x00" + recipient
	b.lanesMu.Lock()
	defer b.lanesMu.Unlock()
	l, ok := b.lanes[key]
	if !ok {
		l = &sync.Mutex{}
		b.lanes[key] = l
	}
	return l
}

func (b *Bus) deliverInLane(ctx context.Context, msg Message) Delivery {
	l := b.lane(msg.Sender, msg.Recipient)
	l.Lock()
	defer l.Unlock()
	return b.deliver(ctx, msg)
}

func (b *Bus) deliver(ctx context.Context, msg Message) Delivery {
	b.sent.Add(1)
	messagesSent.WithLabelValues(string(msg.Type)).Inc()
	d := Delivery{MessageID: msg.ID, Recipient: msg.Recipient}

	op := func() error {
		d.Attempts++
		if d.Attempts > 1 {
			b.retries.Add(1)
			deliveryRetries.Inc()
		}
		b.mu.RLock()
		mb, ok := b.mailboxes[msg.Recipient]
		b.mu.RUnlock()
		if !ok {
			return backoff.Permanent(ErrUnknownRecipient)
		}
		err := mb.put(msg)
		if errors.Is(err, ErrMailboxClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.cfg.Interval), uint64(b.cfg.Attempts-1)),
		ctx,
	)
	err := backoff.Retry(op, policy)
	if err == nil {
		b.delivered.Add(1)
		return d
	}

	d.Err = fmt.Errorf("%w: %s to %s after %d attempts: %w", ErrDeliveryFailed, msg.Type, msg.Recipient, d.Attempts, err)
	b.failed.Add(1)
	deliveryFailures.WithLabelValues(string(msg.Type), reason(err)).Inc()
	b.log.Warnf("delivery of %s failed: %v", msg, err)
	b.events.Publish(events.DeliveryEvent{
		MessageID: msg.ID,
		Type:      string(msg.Type),
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Attempts:  d.Attempts,
		Error:     err.Error(),
		Time:      b.now(),
	})
	return d
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrMailboxFull):
		return "mailbox_full"
	case errors.Is(err, ErrUnknownRecipient):
		return "unknown_recipient"
	case errors.Is(err, ErrMailboxClosed):
		return "mailbox_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
