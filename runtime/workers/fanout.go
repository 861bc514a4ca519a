package workers

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"context"
	"log/slog"
	"sync/atomic"
)

var _ contract.Worker = (*FanoutWorker)(nil)

// Delivery is one room event together with the subscribers it was ordered for.
type Delivery struct {
	Event       event.DomainEvent
	Subscribers []contract.Subscriber
}

// DeliveryStats is shared by all fan-out shards.
type DeliveryStats struct {
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (s *DeliveryStats) Delivered() uint64 { return s.delivered.Load() }
func (s *DeliveryStats) Dropped() uint64   { return s.dropped.Load() }

// FanoutWorker is the single consumer of one fan-out shard.
// Rooms are pinned to a shard, so per-room order is the order of the shard channel.
// A sink refusing an event only loses that event, it never slows down the others.
type FanoutWorker struct {
	log       *slog.Logger
	input     chan Delivery
	stats     *DeliveryStats
	telemetry chan event.Event
}

func NewFanoutWorker(log *slog.Logger, input chan Delivery, stats *DeliveryStats, telemetry chan event.Event) *FanoutWorker {
	return &FanoutWorker{log: log, input: input, stats: stats, telemetry: telemetry}
}

func (w *FanoutWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return nil
		case d := <-w.input:
			w.Fanout(d)
		}
	}
}

// Fanout One sink for each subscriber
func (w *FanoutWorker) Fanout(d Delivery) {
	for _, sub := range d.Subscribers {
		if err := sub.Sink.Deliver(d.Event); err != nil {
			w.stats.dropped.Add(1)
			w.report(event.DeliveryDropped{
				ConnectionID: sub.ConnectionID,
				Room:         d.Event.RoomID(),
				Err:          err,
			})
			continue
		}
		w.stats.delivered.Add(1)
	}
}

func (w *FanoutWorker) report(payload event.DeliveryDropped) {
	select {
	case w.telemetry <- event.New(event.DeliveryDroppedType, payload):
	default:
	}
}
