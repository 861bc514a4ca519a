package event

import (
	"chat-hub/errors"
	"log/slog"
)

// DropHandler counts best-effort deliveries that were given up on.
type DropHandler struct {
	log     *slog.Logger
	counter *Counter
}

func NewDropHandler(log *slog.Logger, counter *Counter) *DropHandler {
	return &DropHandler{log: log, counter: counter}
}

func (h *DropHandler) Handle(event Event) {
	switch event.Type {
	case DeliveryDroppedType:
		payload, ok := event.Payload.(DeliveryDropped)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(DeliveryDroppedType)
		h.log.Debug("Delivery dropped",
			"connection_id", payload.ConnectionID, "room", payload.Room, "error", payload.Err)
	case SinkDroppedType:
		payload, ok := event.Payload.(SinkDropped)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(SinkDroppedType)
		h.log.Debug("External event dropped", "topic", payload.Topic, "total", payload.Dropped)
	}
}
