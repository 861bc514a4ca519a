// Package runtime wires the connection registry, the room pipeline and the
// presence tracker together. It holds no transport and no storage logic.
package runtime

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/moderation"
	"chat-hub/runtime/workers"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

//go:embed censored/*
var censoredFolder embed.FS

// RecentReader is implemented by stores keeping a hot copy of the latest messages.
type RecentReader interface {
	Recent(ctx context.Context, roomID domain.RoomID, n int) ([]domain.Message, error)
}

type Options struct {
	FanoutShards         int
	FanoutBufferSize     int
	LivenessWindow       time.Duration
	SweepInterval        time.Duration
	IdleTimeout          time.Duration
	IdleSweepInterval    time.Duration
	Persistence          workers.PersistenceConfig
	DrainTimeout         time.Duration
	SinkBufferSize       int
	SinkTimeout          time.Duration
	MetricInterval       time.Duration
	LowCapacityThreshold int
	RestartInterval      time.Duration
	HistoryLimit         int
	CharReplacement      rune
}

// Stats is a point-in-time view used by the admin surface and the metrics.
type Stats struct {
	Connections       int
	OnlineUsers       int
	TextMessages      uint64
	SystemNotices     uint64
	TypingIndicators  uint64
	Delivered         uint64
	DeliveryDropped   uint64
	Persistence       workers.PersistenceStats
	SinkBuffered      int
	SinkPublished     uint64
	SinkFailed        uint64
	SinkDropped       uint64
	WorkerRestarts    uint64
	TelemetryCounters map[event.Type]uint64
}

type Orchestrator struct {
	log         *slog.Logger
	opts        Options
	store       contract.MessageStore
	registry    *Registry
	presence    *Presence
	broadcaster *Broadcaster
	persistence *workers.PersistenceCoordinator
	sink        *workers.EventSinkBridge
	supervisor  *workers.Supervisor
	shards      []chan workers.Delivery
	stats       *workers.DeliveryStats
	telemetry   chan event.Event
	counter     *event.Counter
	handlers    []event.Handler
	extra       []contract.Worker

	mu      sync.Mutex
	started bool
	done    chan struct{}
	stopped sync.Once
}

// NewOrchestrator builds every component. Nothing runs before Start.
// publisher may be nil when no external event log is configured.
func NewOrchestrator(log *slog.Logger, opts Options, store contract.MessageStore,
	publisher contract.EventPublisher) (*Orchestrator, error) {
	if opts.FanoutShards <= 0 {
		opts.FanoutShards = 1
	}
	telemetry := make(chan event.Event, max(opts.FanoutBufferSize, 64))
	counter := event.NewCounter()

	moderator, err := prepareModeration(log, opts.CharReplacement)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	persistence := workers.NewPersistenceCoordinator(log, store, telemetry, opts.Persistence)
	sink := workers.NewEventSinkBridge(log, publisher, opts.SinkBufferSize, opts.SinkTimeout, telemetry)
	shards := make([]chan workers.Delivery, opts.FanoutShards)
	for i := range shards {
		shards[i] = make(chan workers.Delivery, opts.FanoutBufferSize)
	}

	broadcaster := NewBroadcaster(log, registry, persistence, sink, shards).
		WithSanitizer(moderation.NewSanitizer(moderator))
	if source, ok := store.(contract.SequenceSource); ok {
		broadcaster.WithSequenceSource(source)
	}

	presence := NewPresence(log, opts.LivenessWindow, time.Now)
	presence.OnChange(func(change event.PresenceChanged) {
		broadcaster.PublishPresence(context.Background(), change)
	})

	return &Orchestrator{
		log:         log,
		opts:        opts,
		store:       store,
		registry:    registry,
		presence:    presence,
		broadcaster: broadcaster,
		persistence: persistence,
		sink:        sink,
		supervisor:  workers.NewSupervisor(log, telemetry, opts.RestartInterval),
		shards:      shards,
		stats:       &workers.DeliveryStats{},
		telemetry:   telemetry,
		counter:     counter,
		handlers: []event.Handler{
			event.NewWorkerRestartedAfterPanicHandler(log, counter),
			event.NewChannelCapacityHandler(log, opts.LowCapacityThreshold),
			event.NewPersistenceHandler(log, counter),
			event.NewDropHandler(log, counter),
		},
		done: make(chan struct{}),
	}, nil
}

// prepareModeration loads the embedded word lists and builds the Aho-Corasick automaton.
func prepareModeration(log *slog.Logger, charReplacement rune) (*moderation.Moderator, error) {
	data, err := NewCensoredLoader(censoredFolder).LoadAll("censored")
	if err != nil {
		return nil, err
	}
	log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(data.Languages), strings.Join(data.Languages, ",")))
	log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))
	return moderation.NewModerator(data.Words, charReplacement, log)
}

// AddTelemetryHandlers must be called before Start.
func (o *Orchestrator) AddTelemetryHandlers(handlers ...event.Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers = append(o.handlers, handlers...)
}

// AddWorkers supervises more workers next to the pipeline ones. Must be called before Start.
func (o *Orchestrator) AddWorkers(w ...contract.Worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extra = append(o.extra, w...)
}

// Start runs every worker under supervision and returns immediately.
// Workers outlive ctx: the shutdown order belongs to Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	handlers := append([]event.Handler(nil), o.handlers...)
	extra := append([]contract.Worker(nil), o.extra...)
	o.mu.Unlock()

	probes := []workers.Probe{
		{Name: "persistence", Len: o.persistence.Len, Cap: o.persistence.Cap},
		workers.ChannelProbe("event_sink", o.sink.Buffer()),
		workers.ChannelProbe("telemetry", o.telemetry),
	}
	for i, shard := range o.shards {
		o.supervisor.Add(workers.NewFanoutWorker(o.log, shard, o.stats, o.telemetry))
		probes = append(probes, workers.ChannelProbe(fmt.Sprintf("fanout_%d", i), shard))
	}
	o.supervisor.Add(o.persistence.Workers()...)
	o.supervisor.Add(
		o.sink,
		workers.NewTelemetryWorker(o.log, o.telemetry, handlers),
		workers.NewPresenceSweepWorker(o.log, o.presence, o.opts.SweepInterval),
	)
	if o.opts.MetricInterval > 0 {
		o.supervisor.Add(workers.NewChannelCapacityWorker(o.log, probes, o.telemetry, o.opts.MetricInterval))
	}
	if o.opts.IdleTimeout > 0 && o.opts.IdleSweepInterval > 0 {
		o.supervisor.Add(workers.NewIdleReaperWorker(o.log, o.registry, o,
			o.opts.IdleTimeout, o.opts.IdleSweepInterval))
	}

	o.supervisor.Add(extra...)

	o.log.Info("Starting orchestrator and all supervised workers", "shards", len(o.shards))
	go func() {
		defer close(o.done)
		o.supervisor.Run(context.WithoutCancel(ctx))
	}()
	return nil
}

// Stop rejects new durable writes, drains the persistence queue,
// then stops the workers. Calling it twice is a no-op.
func (o *Orchestrator) Stop() {
	o.stopped.Do(func() {
		o.log.Info("Requesting orchestrator shutdown")
		if err := o.persistence.Drain(o.opts.DrainTimeout); err != nil {
			o.log.Error("Persistence not fully drained", "error", err)
		}
		o.broadcaster.Stop()
		o.supervisor.Stop()

		o.mu.Lock()
		started := o.started
		o.mu.Unlock()
		if started {
			<-o.done
		}
		o.log.Info("Orchestrator stopped")
	})
}

// Register records an authenticated connection and marks its user online.
func (o *Orchestrator) Register(userID domain.UserID, connectionID domain.ConnectionID,
	sink contract.ConnectionSink) (domain.Connection, error) {
	conn, err := o.registry.Register(userID, connectionID, sink)
	if err != nil {
		o.log.Warn("Connection rejected", "connection_id", connectionID, "user", userID, "error", err)
		return domain.Connection{}, err
	}
	o.presence.Connect(userID)
	o.log.Debug("Connection registered", "connection_id", connectionID, "user", userID)
	return conn, nil
}

// Subscribe joins a room. The room hears about the user only on its first connection.
func (o *Orchestrator) Subscribe(ctx context.Context, connectionID domain.ConnectionID, roomID domain.RoomID) error {
	conn, ok := o.registry.Connection(connectionID)
	if !ok {
		return errors.ErrUnknownConnection
	}
	first, err := o.registry.Subscribe(connectionID, roomID)
	if err != nil {
		return err
	}
	if first && !roomID.IsReserved() {
		if _, err := o.broadcaster.Announce(ctx, roomID, conn.UserID, domain.JoinedNotice(conn.UserID)); err != nil {
			o.log.Warn("Join notice not sent", "room", roomID, "user", conn.UserID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) Unsubscribe(ctx context.Context, connectionID domain.ConnectionID, roomID domain.RoomID) {
	conn, ok := o.registry.Connection(connectionID)
	if !ok {
		return
	}
	if o.registry.Unsubscribe(connectionID, roomID) {
		o.announceLeft(ctx, roomID, conn.UserID)
	}
}

// Publish posts a text message in a room of the connection.
func (o *Orchestrator) Publish(ctx context.Context, connectionID domain.ConnectionID,
	roomID domain.RoomID, content string) (domain.Message, error) {
	o.registry.Touch(connectionID)
	return o.broadcaster.Publish(ctx, roomID, connectionID, domain.TextEvent(content))
}

func (o *Orchestrator) Typing(ctx context.Context, connectionID domain.ConnectionID,
	roomID domain.RoomID, isTyping bool) error {
	o.registry.Touch(connectionID)
	_, err := o.broadcaster.Publish(ctx, roomID, connectionID, domain.TypingEvent(isTyping))
	return err
}

// Heartbeat keeps both the connection and its user alive.
func (o *Orchestrator) Heartbeat(connectionID domain.ConnectionID) error {
	conn, ok := o.registry.Connection(connectionID)
	if !ok {
		return errors.ErrUnknownConnection
	}
	o.registry.Touch(connectionID)
	o.presence.Heartbeat(conn.UserID)
	return nil
}

// Deregister removes the connection from every room. Presence is released
// exactly once even when called concurrently for the same connection.
func (o *Orchestrator) Deregister(ctx context.Context, connectionID domain.ConnectionID) bool {
	removed, left, ok := o.registry.Deregister(connectionID)
	if !ok {
		return false
	}
	for _, roomID := range left {
		o.announceLeft(ctx, roomID, removed.UserID)
	}
	o.presence.Disconnect(removed.UserID)
	o.log.Debug("Connection deregistered", "connection_id", connectionID, "user", removed.UserID)
	return true
}

// ForceDisconnect deregisters the connection and closes its outbound queue.
func (o *Orchestrator) ForceDisconnect(ctx context.Context, connectionID domain.ConnectionID) bool {
	sink, ok := o.registry.Sink(connectionID)
	if !ok {
		return false
	}
	if !o.Deregister(ctx, connectionID) {
		return false
	}
	sink.Close()
	o.log.Info("Connection forcibly closed", "connection_id", connectionID)
	return true
}

func (o *Orchestrator) announceLeft(ctx context.Context, roomID domain.RoomID, userID domain.UserID) {
	if roomID.IsReserved() {
		return
	}
	if _, err := o.broadcaster.Announce(ctx, roomID, userID, domain.LeftNotice(userID)); err != nil {
		o.log.Warn("Leave notice not sent", "room", roomID, "user", userID, "error", err)
	}
}

// History reads the stored messages of a room after since, oldest first.
func (o *Orchestrator) History(ctx context.Context, roomID domain.RoomID, since time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 || (o.opts.HistoryLimit > 0 && limit > o.opts.HistoryLimit) {
		limit = o.opts.HistoryLimit
	}
	return o.store.Query(ctx, roomID, since, limit)
}

// Recent returns the latest messages of a room, from the cache when there is one.
func (o *Orchestrator) Recent(ctx context.Context, roomID domain.RoomID, n int) ([]domain.Message, error) {
	if n <= 0 || (o.opts.HistoryLimit > 0 && n > o.opts.HistoryLimit) {
		n = o.opts.HistoryLimit
	}
	if reader, ok := o.store.(RecentReader); ok {
		messages, err := reader.Recent(ctx, roomID, n)
		if err == nil {
			return messages, nil
		}
		o.log.Warn("Recent messages not available from cache", "room", roomID, "error", err)
	}
	if reader, ok := o.store.(contract.LatestReader); ok {
		return reader.Latest(ctx, roomID, n)
	}
	messages, err := o.store.Query(ctx, roomID, time.Time{}, 0)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return messages, nil
	}
	return lo.Subset(messages, -n, uint(n)), nil
}

func (o *Orchestrator) RoomSubscriberCount(roomID domain.RoomID) int {
	return o.registry.RoomSubscriberCount(roomID)
}

func (o *Orchestrator) ListOnline() []domain.UserID {
	return o.presence.ListOnline()
}

func (o *Orchestrator) IsOnline(userID domain.UserID) bool {
	return o.presence.IsOnline(userID)
}

func (o *Orchestrator) Member(connectionID domain.ConnectionID, roomID domain.RoomID) (domain.UserID, error) {
	return o.registry.Member(connectionID, roomID)
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Connections:      o.registry.ConnectionCount(),
		OnlineUsers:      o.presence.Len(),
		TextMessages:     o.broadcaster.Published(domain.MessageText),
		SystemNotices:    o.broadcaster.Published(domain.MessageSystem),
		TypingIndicators: o.broadcaster.Published(domain.MessageTyping),
		Delivered:        o.stats.Delivered(),
		DeliveryDropped:  o.stats.Dropped(),
		Persistence:      o.persistence.Stats(),
		SinkBuffered:     len(o.sink.Buffer()),
		SinkPublished:    o.sink.Published(),
		SinkFailed:       o.sink.Failed(),
		SinkDropped:      o.sink.Dropped(),
		WorkerRestarts:   o.counter.Get(event.RestartedAfterPanicType),
		TelemetryCounters: map[event.Type]uint64{
			event.PersistenceFailureType:      o.counter.Get(event.PersistenceFailureType),
			event.PersistenceBackpressureType: o.counter.Get(event.PersistenceBackpressureType),
			event.PersistenceEvictedType:      o.counter.Get(event.PersistenceEvictedType),
			event.SinkDroppedType:             o.counter.Get(event.SinkDroppedType),
			event.DeliveryDroppedType:         o.counter.Get(event.DeliveryDroppedType),
		},
	}
}
