package runtime

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"sort"
	"sync"
	"time"
)

// recordingSink keeps every delivered event in order.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
	closed bool
	full   bool
}

func (s *recordingSink) Deliver(e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrConnectionClosed
	}
	if s.full {
		return errors.ErrSlowConsumer
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.DomainEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) Messages() []event.MessagePosted {
	var out []event.MessagePosted
	for _, e := range s.Events() {
		if m, ok := e.(event.MessagePosted); ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeClock is advanced by hand in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryStore is an in-memory message store.
type memoryStore struct {
	mu       sync.Mutex
	messages []domain.Message
}

func (s *memoryStore) Append(_ context.Context, message domain.Message) (domain.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return domain.Ack{ID: message.ID, StoredAt: time.Now().UTC()}, nil
}

func (s *memoryStore) Query(_ context.Context, roomID domain.RoomID, since time.Time, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.Room == roomID && m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) LastSequence(_ context.Context, roomID domain.RoomID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last uint64
	for _, m := range s.messages {
		if m.Room == roomID && m.Seq > last {
			last = m.Seq
		}
	}
	return last, nil
}

func (s *memoryStore) All() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}
