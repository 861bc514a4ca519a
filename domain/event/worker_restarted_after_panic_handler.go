package event

import (
	"chat-hub/errors"
	"log/slog"
)

// WorkerRestartedAfterPanicHandler counts supervisor restarts.
// A pipeline worker restarting means deliveries of its shard were lost meanwhile.
type WorkerRestartedAfterPanicHandler struct {
	log     *slog.Logger
	counter *Counter
}

func NewWorkerRestartedAfterPanicHandler(log *slog.Logger, counter *Counter) *WorkerRestartedAfterPanicHandler {
	return &WorkerRestartedAfterPanicHandler{log: log, counter: counter}
}

func (h *WorkerRestartedAfterPanicHandler) Handle(event Event) {
	if event.Type != RestartedAfterPanicType {
		return
	}
	payload, ok := event.Payload.(WorkerRestartedAfterPanic)
	if !ok {
		h.log.Error(errors.ErrInvalidPayload.Error(), "type", event.Type)
		return
	}
	h.counter.Increment(RestartedAfterPanicType)
	h.log.Warn("Worker restarted after panic",
		"worker", payload.WorkerName, "total", h.counter.Get(RestartedAfterPanicType))
}
