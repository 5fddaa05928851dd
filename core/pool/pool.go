// Package pool implements the shared maintenance resource pool. Reservations
// are all-or-nothing; unmet requests wait in a priority backlog that is
// rescanned whenever resources come back.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/logger"
	"github.com/kilianp07/cityfleet/core/monitoring"
)

// Status is the immediate result of Reserve.
type Status int

const (
	Granted Status = iota + 1
	Queued
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Queued:
		return "queued"
	default:
		return "unknown"
	}
}

// Request asks for a set of resources on behalf of a job.
type Request struct {
	JobID        string
	Owner        string
	Requirements map[string]int
	// Urgency is the fault urgency weight.
	Urgency float64
	// Distance from the resource depot to the requester.
	Distance float64
}

// Config tunes backlog priority and expiry.
type Config struct {
	ProximityWeight float64
	// WaitWeight is added per second spent in the backlog.
	WaitWeight float64
	// MaxWait expires queued jobs. Zero disables.
	MaxWait time.Duration
	// WaitWarning logs a warning once a job waited that long. Zero disables.
	WaitWarning time.Duration
	// RetryBudget is the number of scans a job may stay unsatisfied. Zero
	// disables.
	RetryBudget int
	// ScanInterval is the period used by Run.
	ScanInterval time.Duration
}

// DefaultConfig returns the reference priority weights.
func DefaultConfig() Config {
	return Config{
		ProximityWeight: 1,
		WaitWeight:      0.1,
		MaxWait:         2 * time.Minute,
		WaitWarning:     30 * time.Second,
		ScanInterval:    time.Second,
	}
}

// BacklogEntry describes a queued job.
type BacklogEntry struct {
	JobID        string
	Owner        string
	Requirements map[string]int
	Priority     float64
	Waited       time.Duration
	Scans        int
}

type entry struct {
	req      Request
	seq      uint64
	queuedAt time.Time
	scans    int
	warned   bool
	priority float64
}

// Option customizes a Pool.
type Option func(*Pool)

func WithLogger(l logger.Logger) Option     { return func(p *Pool) { p.log = l } }
func WithEmitter(e events.Emitter) Option   { return func(p *Pool) { p.events = e } }
func WithNotifier(n Notifier) Option        { return func(p *Pool) { p.notify = n } }
func WithClock(now func() time.Time) Option { return func(p *Pool) { p.now = now } }

// Pool holds named resource counters shared by all crews.
type Pool struct {
	cfg    Config
	log    logger.Logger
	events events.Emitter
	notify Notifier
	now    func() time.Time

	mu        sync.Mutex
	total     map[string]int
	available map[string]int
	holding   map[string]map[string]int
	backlog   []*entry
	seq       uint64
}

// New creates a pool with the given totals, all initially available.
func New(totals map[string]int, cfg Config, opts ...Option) *Pool {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultConfig().ScanInterval
	}
	p := &Pool{
		cfg:       cfg,
		log:       logger.NopLogger{},
		events:    events.NopEmitter{},
		notify:    NopNotifier{},
		now:       time.Now,
		total:     make(map[string]int, len(totals)),
		available: make(map[string]int, len(totals)),
		holding:   make(map[string]map[string]int),
	}
	for k, v := range totals {
		p.total[k] = v
		p.available[k] = v
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Reserve grants the whole request or queues it. A request that fits is still
// queued behind waiting jobs it does not outrank, so older jobs keep aging
// toward the front. It never blocks; a queued job's owner is notified once
// the backlog scan grants it.
func (p *Pool) Reserve(req Request) (Status, error) {
	if req.JobID == "" || len(req.Requirements) == 0 {
		return 0, ErrInvalidRequest
	}
	for res, qty := range req.Requirements {
		if qty <= 0 {
			return 0, fmt.Errorf("%w: %s=%d", ErrInvalidRequest, res, qty)
		}
	}
	req.Requirements = copyCounts(req.Requirements)

	p.mu.Lock()
	if _, ok := p.holding[req.JobID]; ok || p.queuedLocked(req.JobID) >= 0 {
		p.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrAlreadyReserved, req.JobID)
		monitoring.Violation("pool", err)
		return 0, err
	}
	for res, qty := range req.Requirements {
		if qty > p.total[res] {
			p.mu.Unlock()
			p.emit(req, events.ResourceRejected, 0, 0)
			return 0, fmt.Errorf("%w: %s needs %d, pool has %d", ErrUnsatisfiable, res, qty, p.total[res])
		}
	}
	if p.fitsLocked(req.Requirements) && p.outranksBacklogLocked(req) {
		p.takeLocked(req)
		p.mu.Unlock()
		p.emit(req, events.ResourceGranted, 0, 0)
		return Granted, nil
	}
	p.seq++
	p.backlog = append(p.backlog, &entry{req: req, seq: p.seq, queuedAt: p.now()})
	n := len(p.backlog)
	p.mu.Unlock()
	p.log.Debugf("job %s queued, backlog %d", req.JobID, n)
	p.emit(req, events.ResourceQueued, n, 0)
	return Queued, nil
}

// Release returns the job's resources and rescans the backlog. Releasing a
// job that holds nothing is an error.
func (p *Pool) Release(jobID string) error {
	p.mu.Lock()
	held, ok := p.holding[jobID]
	if !ok {
		p.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrDoubleRelease, jobID)
		monitoring.Violation("pool", err)
		return err
	}
	for res, qty := range held {
		if p.available[res]+qty > p.total[res] {
			p.mu.Unlock()
			err := fmt.Errorf("pool: %s would exceed total on release of %s", res, jobID)
			monitoring.Violation("pool", err)
			return err
		}
	}
	for res, qty := range held {
		p.available[res] += qty
	}
	delete(p.holding, jobID)
	p.mu.Unlock()

	p.emit(Request{JobID: jobID, Requirements: held}, events.ResourceReleased, 0, 0)
	p.Rescan()
	return nil
}

// Cancel removes a queued job from the backlog.
func (p *Pool) Cancel(jobID string) error {
	p.mu.Lock()
	i := p.queuedLocked(jobID)
	if i < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotQueued, jobID)
	}
	e := p.backlog[i]
	p.backlog = append(p.backlog[:i], p.backlog[i+1:]...)
	n := len(p.backlog)
	p.mu.Unlock()
	p.emit(e.req, events.ResourceCancelled, n, p.now().Sub(e.queuedAt))
	return nil
}

type outcome struct {
	e      *entry
	action string
	wait   time.Duration
}

// Rescan walks the backlog once in priority order, granting every job that
// fits in what is left. Priorities are recomputed first so waiting jobs age.
func (p *Pool) Rescan() {
	p.mu.Lock()
	now := p.now()
	for _, e := range p.backlog {
		e.priority = p.priority(e, now)
	}
	sort.SliceStable(p.backlog, func(i, j int) bool {
		a, b := p.backlog[i], p.backlog[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.seq < b.seq
	})

	var out []outcome
	kept := p.backlog[:0]
	for _, e := range p.backlog {
		wait := now.Sub(e.queuedAt)
		if p.fitsLocked(e.req.Requirements) {
			p.takeLocked(e.req)
			out = append(out, outcome{e, events.ResourceGranted, wait})
			continue
		}
		e.scans++
		if p.expiredLocked(e, wait) {
			out = append(out, outcome{e, events.ResourceExpired, wait})
			continue
		}
		if p.cfg.WaitWarning > 0 && wait >= p.cfg.WaitWarning && !e.warned {
			e.warned = true
			out = append(out, outcome{e, events.ResourceWaitWarning, wait})
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(p.backlog); i++ {
		p.backlog[i] = nil
	}
	p.backlog = kept
	n := len(kept)
	p.mu.Unlock()

	for _, o := range out {
		switch o.action {
		case events.ResourceGranted:
			p.notify.Granted(o.e.req.Owner, Grant{JobID: o.e.req.JobID, Requirements: copyCounts(o.e.req.Requirements), Waited: o.wait})
		case events.ResourceExpired:
			p.log.Warnf("job %s expired after %s in backlog (%d scans)", o.e.req.JobID, o.wait, o.e.scans)
			p.notify.Expired(o.e.req.Owner, Expiry{JobID: o.e.req.JobID, Reason: ErrWaitExpired.Error()})
		case events.ResourceWaitWarning:
			p.log.Warnf("job %s waiting %s for %v", o.e.req.JobID, o.wait.Round(time.Millisecond), o.e.req.Requirements)
		}
		p.emit(o.e.req, o.action, n, o.wait)
	}
}

// Run rescans the backlog periodically until ctx is done. Periodic scans age
// priorities and expire jobs even when nothing is released.
func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.cfg.ScanInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Rescan()
		}
	}
}

// Priority returns urgency + proximity + wait terms for a request that has
// waited for wait.
func (p *Pool) Priority(req Request, wait time.Duration) float64 {
	return req.Urgency + p.cfg.ProximityWeight/(1+req.Distance) + p.cfg.WaitWeight*wait.Seconds()
}

// outranksBacklogLocked reports whether a fresh request beats every queued
// job at their current priority.
func (p *Pool) outranksBacklogLocked(req Request) bool {
	if len(p.backlog) == 0 {
		return true
	}
	now := p.now()
	fresh := p.Priority(req, 0)
	for _, e := range p.backlog {
		if p.priority(e, now) >= fresh {
			return false
		}
	}
	return true
}

func (p *Pool) priority(e *entry, now time.Time) float64 {
	return p.Priority(e.req, now.Sub(e.queuedAt))
}

// Available returns a copy of the available counters.
func (p *Pool) Available() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyCounts(p.available)
}

// Total returns a copy of the total counters.
func (p *Pool) Total() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyCounts(p.total)
}

// Holding reports whether the job currently holds resources.
func (p *Pool) Holding(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.holding[jobID]
	return ok
}

// Backlog returns the queued jobs ordered by current priority.
func (p *Pool) Backlog() []BacklogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]BacklogEntry, 0, len(p.backlog))
	for _, e := range p.backlog {
		out = append(out, BacklogEntry{
			JobID:        e.req.JobID,
			Owner:        e.req.Owner,
			Requirements: copyCounts(e.req.Requirements),
			Priority:     p.priority(e, now),
			Waited:       now.Sub(e.queuedAt),
			Scans:        e.scans,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (p *Pool) fitsLocked(req map[string]int) bool {
	for res, qty := range req {
		if p.available[res] < qty {
			return false
		}
	}
	return true
}

func (p *Pool) takeLocked(req Request) {
	for res, qty := range req.Requirements {
		p.available[res] -= qty
	}
	p.holding[req.JobID] = req.Requirements
}

func (p *Pool) queuedLocked(jobID string) int {
	for i, e := range p.backlog {
		if e.req.JobID == jobID {
			return i
		}
	}
	return -1
}

func (p *Pool) expiredLocked(e *entry, wait time.Duration) bool {
	if p.cfg.MaxWait > 0 && wait >= p.cfg.MaxWait {
		return true
	}
	return p.cfg.RetryBudget > 0 && e.scans >= p.cfg.RetryBudget
}

func (p *Pool) emit(req Request, action string, backlog int, wait time.Duration) {
	p.events.Publish(events.ResourceEvent{
		JobID:        req.JobID,
		Action:       action,
		Requirements: copyCounts(req.Requirements),
		Available:    p.Available(),
		Backlog:      backlog,
		Wait:         wait,
		Time:         p.now(),
	})
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
