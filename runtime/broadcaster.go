package runtime

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/runtime/workers"
	"context"
	stderrors "errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Sanitizer interface {
	Sanitize(message domain.Message) domain.Message
}

// roomState orders one room. Its lock is always taken before the registry lock.
type roomState struct {
	mu      sync.Mutex
	seeded  bool
	nextSeq uint64
	lastAt  time.Time
}

// Broadcaster is the room pipeline: it validates, orders and hands events to
// the fan-out shards, then to persistence and to the external event sink.
// Live delivery never waits on the store. A message is delivered first and
// persisted best-effort.
type Broadcaster struct {
	log         *slog.Logger
	registry    contract.IRegistry
	persistence contract.IPersistence
	sink        contract.IEventSink
	sanitizer   Sanitizer
	sequences   contract.SequenceSource
	shards      []chan workers.Delivery
	now         func() time.Time

	mu    sync.Mutex
	rooms map[domain.RoomID]*roomState

	stopped  chan struct{}
	stopOnce sync.Once

	texts   atomic.Uint64
	notices atomic.Uint64
	typings atomic.Uint64
}

func NewBroadcaster(log *slog.Logger, registry contract.IRegistry,
	persistence contract.IPersistence, sink contract.IEventSink,
	shards []chan workers.Delivery) *Broadcaster {
	if len(shards) == 0 {
		log.Warn("Broadcaster built without fan-out shard, every publish will fail")
	}
	return &Broadcaster{
		log:         log,
		registry:    registry,
		persistence: persistence,
		sink:        sink,
		shards:      shards,
		now:         time.Now,
		rooms:       make(map[domain.RoomID]*roomState),
		stopped:     make(chan struct{}),
	}
}

func (b *Broadcaster) WithSanitizer(sanitizer Sanitizer) *Broadcaster {
	b.sanitizer = sanitizer
	return b
}

// WithSequenceSource makes each room resume numbering after the last stored message.
func (b *Broadcaster) WithSequenceSource(source contract.SequenceSource) *Broadcaster {
	b.sequences = source
	return b
}

func (b *Broadcaster) WithClock(now func() time.Time) *Broadcaster {
	b.now = now
	return b
}

// Publish routes a client event into a room the sender is subscribed to.
// Text messages get the next room sequence number, typing indicators don't.
func (b *Broadcaster) Publish(ctx context.Context, roomID domain.RoomID,
	connectionID domain.ConnectionID, in domain.InboundEvent) (domain.Message, error) {
	if roomID.IsReserved() {
		return domain.Message{}, errors.ErrReservedRoom
	}
	if in.Type != domain.MessageText && in.Type != domain.MessageTyping {
		return domain.Message{}, fmt.Errorf("%w: type %q can't be published", errors.ErrInvalidFrame, in.Type)
	}
	sender, err := b.registry.Member(connectionID, roomID)
	if err != nil {
		return domain.Message{}, err
	}

	message := domain.Message{
		ID:       uuid.New(),
		Room:     roomID,
		Sender:   sender,
		Content:  in.Content,
		Type:     in.Type,
		IsTyping: in.IsTyping,
	}
	if message.Type == domain.MessageText && b.sanitizer != nil {
		message = b.sanitizer.Sanitize(message)
	}
	return b.dispatch(ctx, message)
}

// Announce sends a system notice on behalf of the server.
// Notices are persisted but don't consume a sequence number.
func (b *Broadcaster) Announce(ctx context.Context, roomID domain.RoomID,
	userID domain.UserID, notice domain.Notice) (domain.Message, error) {
	return b.dispatch(ctx, domain.Message{
		ID:      uuid.New(),
		Room:    roomID,
		Sender:  userID,
		Content: string(notice),
		Type:    domain.MessageSystem,
	})
}

// PublishPresence pushes a presence transition to the presence feed and the event sink.
func (b *Broadcaster) PublishPresence(ctx context.Context, change event.PresenceChanged) {
	subscribers := b.registry.SubscribersOf(domain.PresenceRoom)
	if len(subscribers) > 0 {
		if err := b.handOff(ctx, workers.Delivery{Event: change, Subscribers: subscribers}); err != nil {
			b.log.Debug("Presence change not delivered", "user", change.UserID, "error", err)
		}
	}
	b.sink.Publish(change)
}

func (b *Broadcaster) dispatch(ctx context.Context, message domain.Message) (domain.Message, error) {
	room := b.room(message.Room)

	room.mu.Lock()
	b.seedLocked(ctx, message.Room, room)
	if message.Type.Sequenced() {
		room.nextSeq++
		message.Seq = room.nextSeq
	}
	message.CreatedAt = b.timestampLocked(room)
	evt := event.Envelope(message)
	subscribers := b.registry.SubscribersOf(message.Room)
	if err := b.handOff(ctx, workers.Delivery{Event: evt, Subscribers: subscribers}); err != nil {
		if message.Type.Sequenced() {
			room.nextSeq--
		}
		room.mu.Unlock()
		return domain.Message{}, err
	}
	room.mu.Unlock()

	b.count(message.Type)
	if message.Type.Durable() {
		if err := b.persistence.Enqueue(ctx, message); err != nil {
			// Already delivered, durability is degraded but the message stands.
			b.log.Warn("Message delivered but not queued for persistence",
				"message_id", message.ID, "room", message.Room, "error", err)
		}
	}
	b.sink.Publish(evt)
	return message, nil
}

// handOff pins the delivery to the shard of its room so that order is kept.
func (b *Broadcaster) handOff(ctx context.Context, d workers.Delivery) error {
	if len(b.shards) == 0 {
		return errors.ErrNoFanoutShard
	}
	shard := b.shards[shardOf(d.Event.RoomID(), len(b.shards))]
	select {
	case shard <- d:
		return nil
	case <-b.stopped:
		return errors.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// seedLocked resumes the room counter from the store the first time the room is used.
func (b *Broadcaster) seedLocked(ctx context.Context, roomID domain.RoomID, room *roomState) {
	if room.seeded {
		return
	}
	if b.sequences == nil {
		room.seeded = true
		return
	}
	last, err := b.sequences.LastSequence(ctx, roomID)
	if err != nil {
		// Not seeded, the next dispatch asks the store again
		if !stderrors.Is(err, context.Canceled) {
			b.log.Warn("Room sequence not resumed", "room", roomID, "error", err)
		}
		return
	}
	room.nextSeq = max(room.nextSeq, last)
	room.seeded = true
}

// timestampLocked never returns the same instant twice for a room,
// so that time-ordered history matches the delivery order.
func (b *Broadcaster) timestampLocked(room *roomState) time.Time {
	at := b.now().UTC()
	if !at.After(room.lastAt) {
		at = room.lastAt.Add(time.Nanosecond)
	}
	room.lastAt = at
	return at
}

func (b *Broadcaster) room(roomID domain.RoomID) *roomState {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms[roomID]
	if !ok {
		room = &roomState{}
		b.rooms[roomID] = room
	}
	return room
}

// LastSeq returns the last sequence number handed out in the room.
func (b *Broadcaster) LastSeq(roomID domain.RoomID) uint64 {
	room := b.room(roomID)
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.nextSeq
}

// Stop unblocks pending hand-offs once the fan-out shards are gone.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stopped) })
}

func (b *Broadcaster) count(t domain.MessageType) {
	switch t {
	case domain.MessageText:
		b.texts.Add(1)
	case domain.MessageSystem:
		b.notices.Add(1)
	case domain.MessageTyping:
		b.typings.Add(1)
	}
}

func (b *Broadcaster) Published(t domain.MessageType) uint64 {
	switch t {
	case domain.MessageText:
		return b.texts.Load()
	case domain.MessageSystem:
		return b.notices.Load()
	case domain.MessageTyping:
		return b.typings.Load()
	}
	return 0
}

func shardOf(roomID domain.RoomID, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return int(h.Sum32() % uint32(n))
}
