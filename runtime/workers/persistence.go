package workers

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var _ contract.IPersistence = (*PersistenceCoordinator)(nil)

type PersistenceConfig struct {
	QueueSize      int
	Workers        int
	EnqueueTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DropOldestNonCritical evicts the oldest queued system notice instead of
	// making the room pipeline wait when the queue is full.
	DropOldestNonCritical bool
}

type PersistenceStats struct {
	Queued    int
	Persisted uint64
	Failed    uint64
	Rejected  uint64
	Evicted   uint64
}

// PersistenceCoordinator decouples live delivery from the message store.
// The room pipeline hands durable messages to a bounded queue and a fixed pool
// of workers appends them to the store, retrying with exponential backoff.
// The only synchronisation point between both sides is the queue itself.
type PersistenceCoordinator struct {
	log       *slog.Logger
	store     contract.MessageStore
	telemetry chan event.Event
	cfg       PersistenceConfig

	mu       sync.Mutex
	queue    []domain.Message
	inflight int
	closed   bool

	notEmpty  chan struct{}
	space     chan struct{}
	closing   chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
	drainOnce sync.Once

	storeCtx    context.Context
	cancelStore context.CancelFunc

	persisted atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	evicted   atomic.Uint64
}

func NewPersistenceCoordinator(log *slog.Logger, store contract.MessageStore,
	telemetry chan event.Event, cfg PersistenceConfig) *PersistenceCoordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	storeCtx, cancel := context.WithCancel(context.Background())
	return &PersistenceCoordinator{
		log:         log,
		store:       store,
		telemetry:   telemetry,
		cfg:         cfg,
		queue:       make([]domain.Message, 0, cfg.QueueSize),
		notEmpty:    make(chan struct{}, 1),
		space:       make(chan struct{}, 1),
		closing:     make(chan struct{}),
		drained:     make(chan struct{}),
		storeCtx:    storeCtx,
		cancelStore: cancel,
	}
}

// Workers returns the persistence pool, to be run under supervision.
func (c *PersistenceCoordinator) Workers() []contract.Worker {
	res := make([]contract.Worker, 0, c.cfg.Workers)
	for i := 0; i < c.cfg.Workers; i++ {
		res = append(res, &PersistenceWorker{id: i, coordinator: c})
	}
	return res
}

// Enqueue waits at most EnqueueTimeout for room in the queue.
// It returns ErrPersistenceBackpressure when the queue stayed full
// and ErrQueueClosed once shutdown started.
func (c *PersistenceCoordinator) Enqueue(ctx context.Context, message domain.Message) error {
	var timeout <-chan time.Time
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return errors.ErrQueueClosed
		}
		if len(c.queue) < c.cfg.QueueSize {
			c.queue = append(c.queue, message)
			hasSpace := len(c.queue) < c.cfg.QueueSize
			c.mu.Unlock()
			signal(c.notEmpty)
			if hasSpace {
				signal(c.space)
			}
			return nil
		}
		if c.cfg.DropOldestNonCritical {
			if victim, ok := c.evictLocked(); ok {
				c.queue = append(c.queue, message)
				c.mu.Unlock()
				c.evicted.Add(1)
				c.report(event.PersistenceEvictedType, event.PersistenceEvicted{MessageID: victim.ID, Room: victim.Room})
				signal(c.notEmpty)
				return nil
			}
		}
		c.mu.Unlock()

		if timeout == nil {
			timer := time.NewTimer(c.cfg.EnqueueTimeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-c.space:
		case <-c.closing:
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			c.rejected.Add(1)
			c.report(event.PersistenceBackpressureType, event.PersistenceBackpressure{MessageID: message.ID, Room: message.Room})
			return fmt.Errorf("%w: message %s in room %s", errors.ErrPersistenceBackpressure, message.ID, message.Room)
		}
	}
}

// evictLocked removes the oldest message that may be lost.
func (c *PersistenceCoordinator) evictLocked() (domain.Message, bool) {
	for i, m := range c.queue {
		if !m.Type.Critical() {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return m, true
		}
	}
	return domain.Message{}, false
}

// Close rejects new messages. Queued ones are still written by the workers.
func (c *PersistenceCoordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.checkDrainedLocked()
		c.mu.Unlock()
		close(c.closing)
	})
}

// Drain waits until every queued message went through the store.
// Past timeout the remaining writes are abandoned and reported.
func (c *PersistenceCoordinator) Drain(timeout time.Duration) error {
	c.Close()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.drained:
		c.log.Info("Persistence queue drained", "persisted", c.persisted.Load(), "failed", c.failed.Load())
		return nil
	case <-timer.C:
		c.cancelStore()
		c.mu.Lock()
		left := len(c.queue) + c.inflight
		c.mu.Unlock()
		c.log.Error("Persistence drain timed out", "left", left)
		return fmt.Errorf("%w: %d messages not drained", errors.ErrPersistenceFailure, left)
	}
}

func (c *PersistenceCoordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *PersistenceCoordinator) Cap() int {
	return c.cfg.QueueSize
}

func (c *PersistenceCoordinator) Stats() PersistenceStats {
	return PersistenceStats{
		Queued:    c.Len(),
		Persisted: c.persisted.Load(),
		Failed:    c.failed.Load(),
		Rejected:  c.rejected.Load(),
		Evicted:   c.evicted.Load(),
	}
}

// next blocks until a message is available.
// Once ctx is done or the queue closed it keeps handing out what is left, then reports false.
func (c *PersistenceCoordinator) next(ctx context.Context) (domain.Message, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			message := c.queue[0]
			c.queue[0] = domain.Message{}
			c.queue = c.queue[1:]
			c.inflight++
			more := len(c.queue) > 0
			c.mu.Unlock()
			signal(c.space)
			if more {
				signal(c.notEmpty)
			}
			return message, true
		}
		closed := c.closed
		c.mu.Unlock()

		if closed || ctx.Err() != nil {
			return domain.Message{}, false
		}
		select {
		case <-c.notEmpty:
		case <-c.closing:
		case <-ctx.Done():
		}
	}
}

func (c *PersistenceCoordinator) done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	c.checkDrainedLocked()
}

func (c *PersistenceCoordinator) checkDrainedLocked() {
	if c.closed && len(c.queue) == 0 && c.inflight == 0 {
		c.drainOnce.Do(func() { close(c.drained) })
	}
}

// persist appends the message, retrying with bounded exponential backoff.
func (c *PersistenceCoordinator) persist(message domain.Message) {
	defer c.done()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.MaxInterval = c.cfg.MaxBackoff

	attempts := 0
	_, err := backoff.Retry(c.storeCtx, func() (domain.Ack, error) {
		attempts++
		ack, err := c.store.Append(c.storeCtx, message)
		if err != nil {
			c.log.Debug("Store append failed", "message_id", message.ID, "attempt", attempts, "error", err)
		}
		return ack, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
	)
	if err == nil {
		c.persisted.Add(1)
		return
	}
	c.failed.Add(1)
	c.report(event.PersistenceFailureType, event.PersistenceFailure{
		MessageID: message.ID,
		Room:      message.Room,
		Attempts:  attempts,
		Err:       fmt.Errorf("%w: %w", errors.ErrPersistenceFailure, err),
	})
}

func (c *PersistenceCoordinator) report(t event.Type, payload any) {
	select {
	case c.telemetry <- event.New(t, payload):
	default:
		c.log.Debug("Observability telemetry event lost", "type", t)
	}
}

// PersistenceWorker is one member of the persistence pool.
type PersistenceWorker struct {
	id          int
	coordinator *PersistenceCoordinator
}

func (w *PersistenceWorker) Run(ctx context.Context) error {
	for {
		message, ok := w.coordinator.next(ctx)
		if !ok {
			return nil
		}
		w.coordinator.persist(message)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
