package metrics

import (
	"context"

	"github.com/kilianp07/cityfleet/core/events"
	coremetrics "github.com/kilianp07/cityfleet/core/metrics"
	"github.com/kilianp07/cityfleet/infra/logger"
	"github.com/kilianp07/cityfleet/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records every event in
// sink. It stops when the context is canceled or the bus is closed. The
// returned channel is closed once the collector has exited.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Event], sink coremetrics.MetricsSink, buffer int) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	if buffer <= 0 {
		buffer = eventbus.DefaultBuffer
	}
	log := logger.New("event-collector")
	sub := bus.SubscribeN(buffer)
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := coremetrics.Record(sink, ev); err != nil {
					log.Warnf("record %s event: %v", ev.Kind(), err)
				}
			}
		}
	}()
	return done
}
