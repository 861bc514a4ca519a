package event

import (
	"chat-hub/errors"
	"log/slog"
)

// PersistenceHandler surfaces degraded durability: messages that were
// delivered live but could not (or may not) reach the message store.
type PersistenceHandler struct {
	log     *slog.Logger
	counter *Counter
}

func NewPersistenceHandler(log *slog.Logger, counter *Counter) *PersistenceHandler {
	return &PersistenceHandler{log: log, counter: counter}
}

func (h *PersistenceHandler) Handle(event Event) {
	switch event.Type {
	case PersistenceFailureType:
		payload, ok := event.Payload.(PersistenceFailure)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(PersistenceFailureType)
		h.log.Error("Message lost by the store",
			"message_id", payload.MessageID, "room", payload.Room,
			"attempts", payload.Attempts, "error", payload.Err)
	case PersistenceBackpressureType:
		payload, ok := event.Payload.(PersistenceBackpressure)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(PersistenceBackpressureType)
		h.log.Warn("Persistence queue saturated",
			"message_id", payload.MessageID, "room", payload.Room)
	case PersistenceEvictedType:
		payload, ok := event.Payload.(PersistenceEvicted)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(PersistenceEvictedType)
		h.log.Warn("System notice evicted from persistence queue",
			"message_id", payload.MessageID, "room", payload.Room)
	}
}
