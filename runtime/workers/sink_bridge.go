package workers

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

var (
	_ contract.IEventSink = (*EventSinkBridge)(nil)
	_ contract.Worker     = (*EventSinkBridge)(nil)
)

// EventSinkBridge forwards room and presence events to the external event log.
// Publish never blocks: when the buffer is full the event is dropped and counted,
// which is the only observable effect of a slow or absent event log.
type EventSinkBridge struct {
	log       *slog.Logger
	publisher contract.EventPublisher
	buffer    chan event.DomainEvent
	timeout   time.Duration
	telemetry chan event.Event

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewEventSinkBridge accepts a nil publisher, events are then consumed and discarded.
func NewEventSinkBridge(log *slog.Logger, publisher contract.EventPublisher,
	bufferSize int, timeout time.Duration, telemetry chan event.Event) *EventSinkBridge {
	return &EventSinkBridge{
		log:       log,
		publisher: publisher,
		buffer:    make(chan event.DomainEvent, bufferSize),
		timeout:   timeout,
		telemetry: telemetry,
	}
}

func (b *EventSinkBridge) Publish(e event.DomainEvent) bool {
	select {
	case b.buffer <- e:
		return true
	default:
		dropped := b.dropped.Add(1)
		select {
		case b.telemetry <- event.New(event.SinkDroppedType, event.SinkDropped{Topic: event.TopicOf(e), Dropped: dropped}):
		default:
		}
		return false
	}
}

func (b *EventSinkBridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.log.Debug("Context done, stopping event sink")
			return nil
		case e := <-b.buffer:
			b.forward(ctx, e)
		}
	}
}

func (b *EventSinkBridge) forward(ctx context.Context, e event.DomainEvent) {
	if b.publisher == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.publisher.Publish(publishCtx, event.TopicOf(e), e); err != nil {
		b.failed.Add(1)
		b.log.Debug("External publish failed", "topic", event.TopicOf(e), "error", err)
		return
	}
	b.published.Add(1)
}

func (b *EventSinkBridge) Buffer() chan event.DomainEvent { return b.buffer }
func (b *EventSinkBridge) Published() uint64               { return b.published.Load() }
func (b *EventSinkBridge) Failed() uint64                  { return b.failed.Load() }
func (b *EventSinkBridge) Dropped() uint64                 { return b.dropped.Load() }
