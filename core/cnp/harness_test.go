package cnp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cityfleet/core/bus"
)

// recordingSender wraps a bus and records every message it is asked to send.
type recordingSender struct {
	*bus.Bus
	mu   sync.Mutex
	sent []bus.Message
}

func (r *recordingSender) Send(ctx context.Context, msg bus.Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return r.Bus.Send(ctx, msg)
}

func (r *recordingSender) ofType(types ...bus.MessageType) []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Message
	for _, m := range r.sent {
		for _, t := range types {
			if m.Type == t {
				out = append(out, m)
			}
		}
	}
	return out
}

type stubBidder struct {
	eligible bool
	prop     Proposal
}

func (s stubBidder) Eligible(CallForProposals) bool { return s.eligible }
func (s stubBidder) Bid(CallForProposals) Proposal  { return s.prop }

type vehicle struct {
	part     *Participant
	received chan bus.Message
	awards   chan Award
}

type harness struct {
	t      *testing.T
	bus    *bus.Bus
	sender *recordingSender
	ini    *Initiator
	ctx    context.Context
	errs   chan error
}

func newHarness(t *testing.T, cfg Config, opts ...InitiatorOption) *harness {
	t.Helper()
	b := bus.NewBus(bus.Config{Attempts: 3, Interval: time.Millisecond, MailboxSize: 16})
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, bus: b, sender: &recordingSender{Bus: b}, ctx: ctx, errs: make(chan error, 64)}
	h.ini = NewInitiator("S", h.sender, cfg, opts...)
	mb, err := b.Register("S")
	require.NoError(t, err)
	go func() {
		for {
			msg, err := mb.Receive(ctx)
			if err != nil {
				return
			}
			if _, err := h.ini.Handle(ctx, msg); err != nil {
				h.errs <- err
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		h.ini.Close()
		b.Close()
	})
	return h
}

// addVehicle registers a participant that acknowledges awards when ack is
// true.
func (h *harness) addVehicle(id string, bidder Bidder, ack bool) *vehicle {
	h.t.Helper()
	mb, err := h.bus.Register(id)
	require.NoError(h.t, err)
	v := &vehicle{
		part:     NewParticipant(id, h.sender, bidder, nil),
		received: make(chan bus.Message, 16),
		awards:   make(chan Award, 4),
	}
	go func() {
		for {
			msg, err := mb.Receive(h.ctx)
			if err != nil {
				return
			}
			v.received <- msg
			switch msg.Type {
			case bus.TypeCFP:
				_, _ = v.part.HandleCFP(h.ctx, msg)
			case bus.TypeAccept:
				if ack {
					if a, err := v.part.HandleAccept(h.ctx, msg); err == nil {
						v.awards <- a
					}
				}
			case bus.TypeReject:
				v.part.HandleReject(msg)
			}
		}
	}()
	return v
}

func (h *harness) outcome(want State) Outcome {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case o := <-h.ini.Outcomes():
			if o.State == want {
				return o
			}
		case <-timeout:
			h.t.Fatalf("no %s outcome", want)
			return Outcome{}
		}
	}
}

func (v *vehicle) waitFor(t *testing.T, typ bus.MessageType) bus.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-v.received:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			t.Fatalf("no %s received", typ)
			return bus.Message{}
		}
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Window = 40 * time.Millisecond
	cfg.AckGrace = 40 * time.Millisecond
	cfg.ExecutionTimeout = 0
	return cfg
}
