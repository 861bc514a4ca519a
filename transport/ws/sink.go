package ws

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"sync"
)

var _ contract.ConnectionSink = (*Sink)(nil)

// Sink is the outbound queue of one websocket connection.
// The fan-out never waits on it: a full queue loses the event.
type Sink struct {
	events    chan event.DomainEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewSink(size int) *Sink {
	return &Sink{
		events: make(chan event.DomainEvent, size),
		done:   make(chan struct{}),
	}
}

func (s *Sink) Deliver(e event.DomainEvent) error {
	select {
	case <-s.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case s.events <- e:
		return nil
	default:
		return errors.ErrSlowConsumer
	}
}

// Close is idempotent. The writer is told through Done.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Sink) Events() <-chan event.DomainEvent { return s.events }
func (s *Sink) Done() <-chan struct{}            { return s.done }
