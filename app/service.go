// Package app wires the coordination core to its configured adapters.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/cityfleet/config"
	"github.com/kilianp07/cityfleet/core/actor"
	"github.com/kilianp07/cityfleet/core/bus"
	"github.com/kilianp07/cityfleet/core/events"
	coremetrics "github.com/kilianp07/cityfleet/core/metrics"
	coremon "github.com/kilianp07/cityfleet/core/monitoring"
	coremqtt "github.com/kilianp07/cityfleet/core/mqtt"
	"github.com/kilianp07/cityfleet/core/pool"
	"github.com/kilianp07/cityfleet/core/traffic"
	"github.com/kilianp07/cityfleet/infra/journal"
	"github.com/kilianp07/cityfleet/infra/logger"
	"github.com/kilianp07/cityfleet/infra/metrics"
	"github.com/kilianp07/cityfleet/infra/mqtt"
	"github.com/kilianp07/cityfleet/internal/eventbus"
)

// Option customizes a Service.
type Option func(*options)

type options struct {
	mqtt  coremqtt.Client
	rand  actor.Rand
	sink  coremetrics.MetricsSink
	store journal.Store
}

// WithMQTTClient uses c instead of dialing the configured broker.
func WithMQTTClient(c coremqtt.Client) Option { return func(o *options) { o.mqtt = c } }

// WithRand overrides the seeded randomness of the lifecycle loops.
func WithRand(r actor.Rand) Option { return func(o *options) { o.rand = r } }

// WithSink replaces the configured metrics sinks.
func WithSink(s coremetrics.MetricsSink) Option { return func(o *options) { o.sink = s } }

// WithJournalStore replaces the configured journal store.
func WithJournalStore(s journal.Store) Option { return func(o *options) { o.store = s } }

// Service owns one simulation and its adapters.
type Service struct {
	Fleet   *actor.Fleet
	Bus     *bus.Bus
	Pool    *pool.Pool
	Traffic *traffic.Coordinator
	Events  *eventbus.TypedBus[events.Event]
	Journal *journal.Journal

	cfg  *config.Config
	sink coremetrics.MetricsSink
	mqtt coremqtt.Client
	log  logger.Logger
}

// New builds the bus, pool, traffic coordinator and actors described by cfg.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if err := logger.Configure(cfg.Logging.Options()); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	log := logger.New("service")
	evs := eventbus.NewTyped[events.Event]()

	b := bus.NewBus(cfg.Bus.Core(), bus.WithLogger(logger.New("bus")), bus.WithEmitter(evs))
	p := pool.New(cfg.Pool.Resources, cfg.Pool.Core(),
		pool.WithLogger(logger.New("pool")),
		pool.WithEmitter(evs),
		pool.WithNotifier(pool.BusNotifier{Bus: b, ID: "pool", OnError: func(err error) {
			log.Warnf("pool notification: %v", err)
		}}),
	)
	topts, err := cfg.Traffic.Options()
	if err != nil {
		return nil, err
	}
	topts = append(topts, traffic.WithLogger(logger.New("traffic")), traffic.WithEmitter(evs))
	tc := traffic.NewCoordinator(topts...)

	rnd := o.rand
	if rnd == nil {
		seed := cfg.World.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rnd = actor.NewRand(seed)
	}
	env := actor.Env{
		Bus:         b,
		Pool:        p,
		Traffic:     tc,
		Faults:      cfg.World.Faults,
		Settings:    cfg.World.Settings(cfg.Negotiation.SurgeRadiusBonus),
		Negotiation: cfg.Negotiation.Core(),
		Retry:       cfg.Negotiation.Retry(),
		Rand:        rnd,
		Events:      evs,
		Log:         logger.New("fleet"),
	}
	fleet, err := actor.NewFleet(env)
	if err != nil {
		return nil, err
	}
	weather, err := actor.ParseWeather(cfg.World.Weather)
	if err != nil {
		return nil, err
	}
	if err := fleet.SetWeather(weather); err != nil {
		return nil, err
	}
	if err := populate(fleet, cfg.Fleet); err != nil {
		b.Close()
		return nil, err
	}

	s := &Service{Fleet: fleet, Bus: b, Pool: p, Traffic: tc, Events: evs, cfg: cfg, log: log, mqtt: o.mqtt}
	if err := s.openAdapters(o); err != nil {
		b.Close()
		return nil, err
	}
	return s, nil
}

func populate(f *actor.Fleet, fc config.FleetConfig) error {
	for _, v := range fc.Vehicles {
		spec, err := v.Spec()
		if err != nil {
			return err
		}
		if _, err := f.AddVehicle(spec); err != nil {
			return err
		}
	}
	for _, st := range fc.Stations {
		if _, err := f.AddStation(st.Spec()); err != nil {
			return err
		}
	}
	for _, c := range fc.Crews {
		if _, err := f.AddCrew(c.Spec()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) openAdapters(o options) error {
	s.sink = o.sink
	if s.sink == nil {
		sink, err := coremetrics.NewMetricsSink(s.cfg.Metrics.Sinks)
		if err != nil {
			return fmt.Errorf("metrics sink: %w", err)
		}
		s.sink = sink
	}
	store := o.store
	if store == nil {
		var err error
		if store, err = journal.Open(s.cfg.Journal); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}
	if store != nil {
		s.Journal = journal.New(store)
	}
	if s.mqtt == nil && s.cfg.MQTT.Enabled() && s.cfg.MQTT.Triggers {
		cli, err := mqtt.NewPahoClient(s.cfg.MQTT.Config)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		s.mqtt = cli
	}
	return nil
}

// Run starts the adapters and the fleet and blocks until ctx is cancelled
// or an actor fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var waits []<-chan struct{}
	waits = append(waits, metrics.StartEventCollector(ctx, s.Events, s.sink, s.cfg.Metrics.Buffer))
	if s.Journal != nil {
		waits = append(waits, s.Journal.Start(ctx, s.Events, s.cfg.Metrics.Buffer))
		s.log.Infof("journal run %s", s.Journal.RunID())
	}
	if s.cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.Listen); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.mqtt != nil {
		if err := s.subscribeTriggers(ctx); err != nil {
			return err
		}
	}
	s.log.Infof("fleet running with %d actors", len(s.Fleet.Snapshot()))
	err := s.Fleet.Run(ctx)
	cancel()
	for _, w := range waits {
		<-w
	}
	return err
}

func (s *Service) subscribeTriggers(ctx context.Context) error {
	topic := s.cfg.MQTT.Topic("triggers", "#")
	return s.mqtt.Subscribe(topic, func(topic string, payload []byte) {
		t, err := ParseTrigger(topic, payload)
		if err == nil {
			err = Apply(ctx, s.Fleet, t)
		}
		if err != nil {
			s.log.Warnf("trigger on %s: %v", topic, err)
			coremon.CaptureException(err, map[string]string{"module": "triggers", "topic": topic})
		}
	})
}

// Close releases the bus, the journal and the broker session.
func (s *Service) Close() error {
	s.Events.Close()
	s.Bus.Close()
	var errs []error
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	return errors.Join(errs...)
}
