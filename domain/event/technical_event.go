package event

import (
	"chat-hub/domain"
	"time"

	"github.com/google/uuid"
)

type Type string

// Event is an internal telemetry signal, never sent to clients.
type Event struct {
	Type      Type
	CreatedAt time.Time
	Payload   any
}

const (
	RestartedAfterPanicType     Type = "WORKER_RESTARTED_AFTER_PANIC"
	ChannelCapacityType         Type = "CHANNEL_CAPACITY"
	PersistenceFailureType      Type = "PERSISTENCE_FAILURE"
	PersistenceBackpressureType Type = "PERSISTENCE_BACKPRESSURE"
	PersistenceEvictedType      Type = "PERSISTENCE_EVICTED"
	SinkDroppedType             Type = "SINK_DROPPED"
	DeliveryDroppedType         Type = "DELIVERY_DROPPED"
	PresenceChangedType         Type = "PRESENCE_CHANGED"
)

type WorkerRestartedAfterPanic struct {
	WorkerName string
}

type ChannelCapacity struct {
	ChannelName string
	Capacity    int
	Length      int
}

type PersistenceFailure struct {
	MessageID uuid.UUID
	Room      domain.RoomID
	Attempts  int
	Err       error
}

type PersistenceBackpressure struct {
	MessageID uuid.UUID
	Room      domain.RoomID
}

type PersistenceEvicted struct {
	MessageID uuid.UUID
	Room      domain.RoomID
}

type SinkDropped struct {
	Topic   Topic
	Dropped uint64
}

type DeliveryDropped struct {
	ConnectionID domain.ConnectionID
	Room         domain.RoomID
	Err          error
}

// New stamps a telemetry event with the current time.
func New(t Type, payload any) Event {
	return Event{Type: t, CreatedAt: time.Now().UTC(), Payload: payload}
}
