//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// ConnectionSink is the outbound queue of one client connection.
// Deliver must never block: a full or closed sink returns an error and the event is lost.
type ConnectionSink interface {
	Deliver(e event.DomainEvent) error
	Close()
}

// Subscriber is a point-in-time view of one room member.
type Subscriber struct {
	ConnectionID domain.ConnectionID
	UserID       domain.UserID
	Sink         ConnectionSink
}

type IRegistry interface {
	Register(userID domain.UserID, connectionID domain.ConnectionID, sink ConnectionSink) (domain.Connection, error)
	Subscribe(connectionID domain.ConnectionID, roomID domain.RoomID) (bool, error)
	Unsubscribe(connectionID domain.ConnectionID, roomID domain.RoomID) bool
	Deregister(connectionID domain.ConnectionID) (domain.Connection, []domain.RoomID, bool)
	SubscribersOf(roomID domain.RoomID) []Subscriber
	IsSubscribed(connectionID domain.ConnectionID, roomID domain.RoomID) (bool, error)
	Member(connectionID domain.ConnectionID, roomID domain.RoomID) (domain.UserID, error)
}

// IdentityProvider turns a handshake credential into a user.
type IdentityProvider interface {
	Verify(ctx context.Context, credential string) (domain.UserID, error)
}

// RoomDirectory is the external user and room store.
type RoomDirectory interface {
	RoomExists(ctx context.Context, roomID domain.RoomID) (bool, error)
	GetUser(ctx context.Context, userID domain.UserID) (domain.User, error)
}

// MessageStore is the durable message log, indexed by room and time.
type MessageStore interface {
	Append(ctx context.Context, message domain.Message) (domain.Ack, error)
	Query(ctx context.Context, roomID domain.RoomID, since time.Time, limit int) ([]domain.Message, error)
}

// LatestReader gives the newest messages of a room, oldest first.
type LatestReader interface {
	Latest(ctx context.Context, roomID domain.RoomID, n int) ([]domain.Message, error)
}

// SequenceSource gives the last sequence number stored for a room,
// so that ordering survives a restart.
type SequenceSource interface {
	LastSequence(ctx context.Context, roomID domain.RoomID) (uint64, error)
}

// EventPublisher forwards events to an external log, no acknowledgement expected.
type EventPublisher interface {
	Publish(ctx context.Context, topic event.Topic, e event.DomainEvent) error
}

// IPersistence accepts durable messages without blocking the room pipeline for long.
type IPersistence interface {
	Enqueue(ctx context.Context, message domain.Message) error
}

// IEventSink is the best-effort bridge to the external event log.
type IEventSink interface {
	Publish(e event.DomainEvent) bool
}
