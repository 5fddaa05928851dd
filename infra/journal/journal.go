// Package journal records every core event of one run into a queryable
// store, either a rotating JSONL file or a SQLite database.
package journal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/cityfleet/core/events"
	"github.com/kilianp07/cityfleet/core/factory"
	"github.com/kilianp07/cityfleet/infra/logger"
	"github.com/kilianp07/cityfleet/internal/eventbus"
)

// Config selects and tunes the journal store.
type Config struct {
	// Backend is "jsonl", "sqlite" or "none".
	Backend    string `json:"backend" yaml:"backend" validate:"omitempty,oneof=jsonl sqlite none"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
}

// SetDefaults applies the jsonl backend.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "cityfleet-journal.db"
		default:
			c.Path = "cityfleet-journal.jsonl"
		}
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("journal.path is required")
		}
	case "none":
	default:
		return fmt.Errorf("unknown journal backend %q", c.Backend)
	}
	return nil
}

var stores = factory.NewRegistry[Store]()

func init() {
	_ = stores.Register("jsonl", func(conf map[string]any) (Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	})
	_ = stores.Register("sqlite", func(conf map[string]any) (Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSQLiteStore(c.Path)
	})
}

// Open creates the store selected by cfg. The "none" backend returns nil.
func Open(cfg Config) (Store, error) {
	if cfg.Backend == "none" {
		return nil, nil
	}
	return stores.Create(factory.ModuleConfig{Type: cfg.Backend, Conf: map[string]any{
		"path":         cfg.Path,
		"max_size_mb":  cfg.MaxSizeMB,
		"max_backups":  cfg.MaxBackups,
		"max_age_days": cfg.MaxAgeDays,
	}})
}

// Journal appends the events of one run to a Store.
type Journal struct {
	store Store
	runID string
	seq   atomic.Uint64
	fails atomic.Uint64
	log   logger.Logger
}

// New creates a Journal with a fresh run id.
func New(store Store) *Journal {
	return &Journal{store: store, runID: uuid.NewString(), log: logger.New("journal")}
}

// RunID identifies the records written by this journal.
func (j *Journal) RunID() string { return j.runID }

// Failures counts records that could not be written.
func (j *Journal) Failures() uint64 { return j.fails.Load() }

// Append journals one event.
func (j *Journal) Append(ctx context.Context, ev events.Event) error {
	rec, err := NewRecord(j.runID, j.seq.Add(1), ev)
	if err != nil {
		return err
	}
	return j.store.Append(ctx, rec)
}

// Query returns the records of this run matching q.
func (j *Journal) Query(ctx context.Context, q Query) ([]Record, error) {
	q.RunID = j.runID
	return j.store.Query(ctx, q)
}

// Start subscribes to bus and journals events until ctx is canceled or the
// bus is closed. The returned channel is closed once every received event has
// been written.
func (j *Journal) Start(ctx context.Context, bus *eventbus.TypedBus[events.Event], buffer int) <-chan struct{} {
	done := make(chan struct{})
	if buffer <= 0 {
		buffer = eventbus.DefaultBuffer
	}
	sub := bus.SubscribeN(buffer)
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				j.drain(sub)
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				j.write(ev)
			}
		}
	}()
	return done
}

func (j *Journal) drain(sub <-chan events.Event) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			j.write(ev)
		default:
			return
		}
	}
}

func (j *Journal) write(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Append(ctx, ev); err != nil {
		j.fails.Add(1)
		j.log.Warnf("journal %s event: %v", ev.Kind(), err)
	}
}

// Close closes the store.
func (j *Journal) Close() error { return j.store.Close() }

func unixNano(ns int64) time.Time { return time.Unix(0, ns) }
