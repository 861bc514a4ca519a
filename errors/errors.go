package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrInvalidPayload = fmt.Errorf("invalid event payload")
	ErrInvalidFrame   = fmt.Errorf("invalid frame")
	ErrContentTooLong = fmt.Errorf("message content is too long")

	ErrUnknownConnection   = fmt.Errorf("unknown connection")
	ErrDuplicateConnection = fmt.Errorf("connection already registered")
	ErrNotSubscribed       = fmt.Errorf("connection is not subscribed to the room")
	ErrReservedRoom        = fmt.Errorf("room is reserved")
	ErrInvalidCredential   = fmt.Errorf("invalid credential")

	ErrSlowConsumer     = fmt.Errorf("subscriber buffer is full")
	ErrConnectionClosed = fmt.Errorf("connection is closed")
	ErrNoFanoutShard    = fmt.Errorf("no fan-out shard to deliver to")

	ErrPersistenceBackpressure = fmt.Errorf("persistence queue is full")
	ErrPersistenceFailure      = fmt.Errorf("message could not be persisted")
	ErrQueueClosed             = fmt.Errorf("persistence queue is closed")
	ErrStoreUnavailable        = fmt.Errorf("message store unavailable")

	ErrRoomNotFound = fmt.Errorf("room not found")
	ErrUserNotFound = fmt.Errorf("user not found")
)
