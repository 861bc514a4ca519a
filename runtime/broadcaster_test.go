package runtime

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/mocks"
	"chat-hub/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// spyPersistence records what the pipeline asked to persist.
type spyPersistence struct {
	mu       sync.Mutex
	messages []domain.Message
	err      error
}

func (s *spyPersistence) Enqueue(_ context.Context, message domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, message)
	return nil
}

func (s *spyPersistence) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// spySink records what reached the event sink bridge.
type spySink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *spySink) Publish(e event.DomainEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

func (s *spySink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

type pipeline struct {
	registry    *Registry
	persistence *spyPersistence
	sink        *spySink
	broadcaster *Broadcaster
	stats       *workers.DeliveryStats
}

func newPipeline(t *testing.T, shards int) *pipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := NewRegistry()
	persistence := &spyPersistence{}
	sink := &spySink{}
	stats := &workers.DeliveryStats{}
	channels := make([]chan workers.Delivery, shards)
	for i := range channels {
		channels[i] = make(chan workers.Delivery, 64)
		w := workers.NewFanoutWorker(slog.Default(), channels[i], stats, make(chan event.Event, 64))
		go func() { _ = w.Run(ctx) }()
	}
	return &pipeline{
		registry:    registry,
		persistence: persistence,
		sink:        sink,
		broadcaster: NewBroadcaster(slog.Default(), registry, persistence, sink, channels),
		stats:       stats,
	}
}

func (p *pipeline) join(t *testing.T, user domain.UserID, conn domain.ConnectionID, room domain.RoomID) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	_, err := p.registry.Register(user, conn, sink)
	require.NoError(t, err)
	_, err = p.registry.Subscribe(conn, room)
	require.NoError(t, err)
	return sink
}

func TestBroadcaster_Message_Reaches_Every_Subscriber_With_Sequence(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 4)
	ctx := context.Background()

	// Given alice and bob in general
	alice := p.join(t, "alice", "c1", "general")
	bob := p.join(t, "bob", "c2", "general")

	// When alice says hi
	message, err := p.broadcaster.Publish(ctx, "general", "c1", domain.TextEvent("hi"))
	req.NoError(err)

	// Then both receive it with sequence 1, alice included
	req.Equal(uint64(1), message.Seq)
	req.Equal(domain.UserID("alice"), message.Sender)
	for _, sink := range []*recordingSink{alice, bob} {
		req.Eventually(func() bool { return len(sink.Messages()) == 1 }, time.Second, 5*time.Millisecond)
		got := sink.Messages()[0].Message
		req.Equal("hi", got.Content)
		req.Equal(uint64(1), got.Seq)
	}

	// And it is persisted and sent to the sink
	req.Len(p.persistence.Messages(), 1)
	req.Len(p.sink.Events(), 1)
}

func TestBroadcaster_Sequence_Is_Per_Room(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 2)
	ctx := context.Background()
	p.join(t, "alice", "c1", "general")
	_, err := p.registry.Subscribe("c1", "random")
	req.NoError(err)

	m1, err := p.broadcaster.Publish(ctx, "general", "c1", domain.TextEvent("hi"))
	req.NoError(err)
	m2, err := p.broadcaster.Publish(ctx, "random", "c1", domain.TextEvent("hi"))
	req.NoError(err)
	m3, err := p.broadcaster.Publish(ctx, "general", "c1", domain.TextEvent("hey"))
	req.NoError(err)

	req.Equal(uint64(1), m1.Seq)
	req.Equal(uint64(1), m2.Seq)
	req.Equal(uint64(2), m3.Seq)
}

func TestBroadcaster_Not_Subscribed(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 1)
	p.join(t, "alice", "c1", "general")

	// When alice publishes in a room she never joined
	_, err := p.broadcaster.Publish(context.Background(), "random", "c1", domain.TextEvent("hi"))

	// Then it is rejected and nothing is ordered
	req.ErrorIs(err, errors.ErrNotSubscribed)
	req.Zero(p.broadcaster.LastSeq("random"))
	req.Empty(p.persistence.Messages())

	// And an unknown connection is reported as such
	_, err = p.broadcaster.Publish(context.Background(), "general", "ghost", domain.TextEvent("hi"))
	req.ErrorIs(err, errors.ErrUnknownConnection)
}

func TestBroadcaster_Presence_Feed_Is_Read_Only(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 1)
	p.join(t, "alice", "c1", domain.PresenceRoom)

	_, err := p.broadcaster.Publish(context.Background(), domain.PresenceRoom, "c1", domain.TextEvent("hi"))

	req.ErrorIs(err, errors.ErrReservedRoom)
}

func TestBroadcaster_Typing_Is_Not_Sequenced_Nor_Persisted(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 1)
	ctx := context.Background()
	alice := p.join(t, "alice", "c1", "general")

	message, err := p.broadcaster.Publish(ctx, "general", "c1", domain.TypingEvent(true))
	req.NoError(err)

	req.Zero(message.Seq)
	req.Eventually(func() bool { return len(alice.Events()) == 1 }, time.Second, 5*time.Millisecond)
	typing, ok := alice.Events()[0].(event.UserTyping)
	req.True(ok)
	req.True(typing.Message.IsTyping)
	req.Empty(p.persistence.Messages())
	req.Len(p.sink.Events(), 1)

	// And the next text message still gets sequence 1
	next, err := p.broadcaster.Publish(ctx, "general", "c1", domain.TextEvent("hi"))
	req.NoError(err)
	req.Equal(uint64(1), next.Seq)
}

func TestBroadcaster_Announce_Is_Persisted_Without_Sequence(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 1)
	bob := p.join(t, "bob", "c2", "general")

	notice, err := p.broadcaster.Announce(context.Background(), "general", "alice", domain.JoinedNotice("alice"))
	req.NoError(err)

	req.Equal(domain.MessageSystem, notice.Type)
	req.Zero(notice.Seq)
	req.Equal("alice joined the chat", notice.Content)
	req.Eventually(func() bool { return len(bob.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	req.Len(p.persistence.Messages(), 1)
}

func TestBroadcaster_Persistence_Backpressure_Does_Not_Roll_Back_Delivery(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 1)
	p.persistence.err = errors.ErrPersistenceBackpressure
	bob := p.join(t, "bob", "c2", "general")
	p.join(t, "alice", "c1", "general")

	// When the persistence queue is saturated
	message, err := p.broadcaster.Publish(context.Background(), "general", "c1", domain.TextEvent("hi"))

	// Then the message is still delivered live
	req.NoError(err)
	req.Equal(uint64(1), message.Seq)
	req.Eventually(func() bool { return len(bob.Messages()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_Slow_Subscriber_Loses_Only_Its_Own_Event(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 1)
	slow := p.join(t, "bob", "c2", "general")
	slow.full = true
	carol := p.join(t, "carol", "c3", "general")
	p.join(t, "alice", "c1", "general")

	for i := 0; i < 10; i++ {
		_, err := p.broadcaster.Publish(context.Background(), "general", "c1", domain.TextEvent(fmt.Sprintf("m%d", i)))
		req.NoError(err)
	}

	req.Eventually(func() bool { return len(carol.Messages()) == 10 }, time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return p.stats.Dropped() == 10 }, time.Second, 5*time.Millisecond)
	req.Empty(slow.Messages())
}

func TestBroadcaster_Concurrent_Publishers_Get_Gap_Free_Order(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 4)
	watcher := p.join(t, "watcher", "w", "general")
	const publishers, perPublisher = 8, 25
	for i := 0; i < publishers; i++ {
		p.join(t, domain.UserID(fmt.Sprintf("u%d", i)), domain.ConnectionID(fmt.Sprintf("c%d", i)), "general")
	}

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				_, err := p.broadcaster.Publish(context.Background(), "general",
					domain.ConnectionID(fmt.Sprintf("c%d", i)), domain.TextEvent("x"))
				if err != nil {
					failures.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()
	req.Zero(failures.Load())

	// Then the watcher saw 1..N without gap, in order
	total := publishers * perPublisher
	req.Eventually(func() bool { return len(watcher.Messages()) == total }, 2*time.Second, 5*time.Millisecond)
	for i, m := range watcher.Messages() {
		req.Equal(uint64(i+1), m.Message.Seq)
	}
}

func TestBroadcaster_Resumes_Sequence_From_Store(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source := mocks.NewMockSequenceSource(ctrl)
	p := newPipeline(t, 1)
	p.broadcaster.WithSequenceSource(source)
	p.join(t, "alice", "c1", "general")

	// Given the store already holds 41 messages for the room
	source.EXPECT().LastSequence(gomock.Any(), domain.RoomID("general")).Return(uint64(41), nil).Times(1)

	m1, err := p.broadcaster.Publish(context.Background(), "general", "c1", domain.TextEvent("hi"))
	req.NoError(err)
	m2, err := p.broadcaster.Publish(context.Background(), "general", "c1", domain.TextEvent("hey"))
	req.NoError(err)

	// Then numbering goes on and the store is asked only once
	req.Equal(uint64(42), m1.Seq)
	req.Equal(uint64(43), m2.Seq)
	req.True(m2.CreatedAt.After(m1.CreatedAt))
}

func TestBroadcaster_Retries_Resume_After_Store_Error(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source := mocks.NewMockSequenceSource(ctrl)
	p := newPipeline(t, 1)
	p.broadcaster.WithSequenceSource(source)
	p.join(t, "alice", "c1", "general")

	// Given the store fails once then answers 41
	gomock.InOrder(
		source.EXPECT().LastSequence(gomock.Any(), domain.RoomID("general")).Return(uint64(0), errors.ErrStoreUnavailable),
		source.EXPECT().LastSequence(gomock.Any(), domain.RoomID("general")).Return(uint64(41), nil),
	)

	// When two messages are published
	m1, err := p.broadcaster.Publish(context.Background(), "general", "c1", domain.TextEvent("hi"))
	req.NoError(err)
	m2, err := p.broadcaster.Publish(context.Background(), "general", "c1", domain.TextEvent("hey"))
	req.NoError(err)
	m3, err := p.broadcaster.Publish(context.Background(), "general", "c1", domain.TextEvent("ho"))
	req.NoError(err)

	// Then the second one resumes after the stored sequence, the store is not asked again
	req.Equal(uint64(1), m1.Seq)
	req.Equal(uint64(42), m2.Seq)
	req.Equal(uint64(43), m3.Seq)
}

func TestBroadcaster_Fifty_Rooms_Are_Ordered_Independently(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 4)
	const rooms, perRoom = 50, 20
	watchers := make([]*recordingSink, rooms)
	for r := 0; r < rooms; r++ {
		room := domain.RoomID(fmt.Sprintf("room-%d", r))
		watchers[r] = p.join(t, domain.UserID(fmt.Sprintf("w%d", r)), domain.ConnectionID(fmt.Sprintf("w%d", r)), room)
		p.join(t, domain.UserID(fmt.Sprintf("u%d", r)), domain.ConnectionID(fmt.Sprintf("c%d", r)), room)
	}

	// When 1000 messages are published concurrently, 20 per room
	var wg sync.WaitGroup
	var failures atomic.Int32
	for r := 0; r < rooms; r++ {
		for j := 0; j < perRoom; j++ {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				_, err := p.broadcaster.Publish(context.Background(), domain.RoomID(fmt.Sprintf("room-%d", r)),
					domain.ConnectionID(fmt.Sprintf("c%d", r)), domain.TextEvent("x"))
				if err != nil {
					failures.Add(1)
				}
			}(r)
		}
	}
	wg.Wait()
	req.Zero(failures.Load())

	// Then every room saw 1..20 in order, whatever happened next door
	for r, watcher := range watchers {
		req.Eventually(func() bool { return len(watcher.Messages()) == perRoom }, 2*time.Second, 5*time.Millisecond)
		for i, m := range watcher.Messages() {
			req.Equal(domain.RoomID(fmt.Sprintf("room-%d", r)), m.Message.Room)
			req.Equal(uint64(i+1), m.Message.Seq)
		}
		req.Equal(uint64(perRoom), p.broadcaster.LastSeq(domain.RoomID(fmt.Sprintf("room-%d", r))))
	}
}

func TestBroadcaster_Without_Shard_Fails_Without_Panic(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(slog.Default(), registry, &spyPersistence{}, &spySink{}, nil)
	_, err := registry.Register("alice", "c1", &recordingSink{})
	req.NoError(err)
	_, err = registry.Subscribe("c1", "general")
	req.NoError(err)

	_, err = broadcaster.Publish(context.Background(), "general", "c1", domain.TextEvent("hi"))

	req.ErrorIs(err, errors.ErrNoFanoutShard)
	req.Zero(broadcaster.LastSeq("general"))
	req.Zero(shardOf("general", 0))
}

func TestBroadcaster_Presence_Change_Goes_To_Feed(t *testing.T) {
	req := require.New(t)
	p := newPipeline(t, 2)
	feed := p.join(t, "alice", "c1", domain.PresenceRoom)

	p.broadcaster.PublishPresence(context.Background(), event.PresenceChanged{UserID: "bob", Status: domain.Online})

	req.Eventually(func() bool { return len(feed.Events()) == 1 }, time.Second, 5*time.Millisecond)
	change := feed.Events()[0].(event.PresenceChanged)
	req.Equal(domain.UserID("bob"), change.UserID)
	req.Len(p.sink.Events(), 1)
}

func TestShardOf_Is_Stable(t *testing.T) {
	req := require.New(t)
	for _, room := range []domain.RoomID{"general", "random", "dev"} {
		req.Equal(shardOf(room, 8), shardOf(room, 8))
		req.Less(shardOf(room, 8), 8)
	}
}
