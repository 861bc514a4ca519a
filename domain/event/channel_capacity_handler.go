package event

import (
	"chat-hub/errors"
	"fmt"
	"log/slog"
)

// ChannelCapacityHandler warns when an internal channel is close to full.
// A nearly full fan-out shard or persistence queue is the first sign of backpressure.
type ChannelCapacityHandler struct {
	log                  *slog.Logger
	lowCapacityThreshold int
}

func NewChannelCapacityHandler(log *slog.Logger, lowCapacityThreshold int) *ChannelCapacityHandler {
	return &ChannelCapacityHandler{log: log, lowCapacityThreshold: lowCapacityThreshold}
}

func (h ChannelCapacityHandler) Handle(event Event) {
	if event.Type != ChannelCapacityType {
		return
	}
	payload, ok := event.Payload.(ChannelCapacity)
	if !ok {
		h.log.Error(errors.ErrInvalidPayload.Error())
		return
	}
	if payload.Capacity <= 0 {
		return
	}
	left := payload.Capacity - payload.Length
	if left <= h.lowCapacityThreshold {
		h.log.Warn(fmt.Sprintf("Channel %s almost full: %d / %d", payload.ChannelName, payload.Length, payload.Capacity))
	}
}
