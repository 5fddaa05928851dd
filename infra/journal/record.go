package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kilianp07/cityfleet/core/events"
)

// Record is one journaled core event.
type Record struct {
	RunID   string          `json:"run_id"`
	Seq     uint64          `json:"seq"`
	Kind    string          `json:"kind"`
	Subject string          `json:"subject"`
	Time    time.Time       `json:"time"`
	Event   json.RawMessage `json:"event"`
}

// Query filters records. Zero fields match everything.
type Query struct {
	RunID   string
	Kind    string
	Subject string
	Start   time.Time
	End     time.Time
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Subject != "" && r.Subject != q.Subject {
		return false
	}
	if !q.Start.IsZero() && r.Time.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Time.After(q.End) {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Subject returns the id an event is about: the contract, job, vehicle or
// actor it concerns.
func Subject(ev events.Event) string {
	switch e := ev.(type) {
	case events.ContractEvent:
		return e.ContractID
	case events.ResourceEvent:
		return e.JobID
	case events.OccupancyEvent:
		return e.VehicleID
	case events.LifecycleEvent:
		return e.ActorID
	case events.DeliveryEvent:
		return e.Recipient
	case events.ConditionEvent:
		return e.Condition
	}
	return ""
}

// NewRecord encodes ev as a Record.
func NewRecord(runID string, seq uint64, ev events.Event) (Record, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Record{}, err
	}
	return Record{
		RunID:   runID,
		Seq:     seq,
		Kind:    ev.Kind(),
		Subject: Subject(ev),
		Time:    ev.At(),
		Event:   data,
	}, nil
}
