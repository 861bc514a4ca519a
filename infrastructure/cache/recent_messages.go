// Package cache keeps the latest messages of every room in Redis so that a
// client joining a room gets its backlog without touching the message store.
package cache

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

var (
	_ contract.MessageStore   = (*RecentMessages)(nil)
	_ contract.SequenceSource = (*RecentMessages)(nil)
	_ contract.LatestReader   = (*RecentMessages)(nil)
)

const (
	DefaultSize = 100
	DefaultTTL  = time.Hour
	keyPrefix   = "chat:recent:"
)

type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Sets   uint64 `json:"sets"`
	Errors uint64 `json:"errors"`
}

// RecentMessages decorates a message store. Writes go to the store first,
// the cache is best-effort: a Redis failure never fails an append.
type RecentMessages struct {
	store  contract.MessageStore
	client *redis.Client
	log    *slog.Logger
	size   int
	ttl    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	sets   atomic.Uint64
	errors atomic.Uint64
}

func NewRecentMessages(store contract.MessageStore, client *redis.Client,
	log *slog.Logger, size int, ttl time.Duration) *RecentMessages {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RecentMessages{store: store, client: client, log: log, size: size, ttl: ttl}
}

func (c *RecentMessages) Append(ctx context.Context, message domain.Message) (domain.Ack, error) {
	ack, err := c.store.Append(ctx, message)
	if err != nil {
		return ack, err
	}
	if err := c.push(ctx, message); err != nil {
		c.errors.Add(1)
		c.log.Warn("Recent message not cached", "message_id", message.ID, "room", message.Room, "error", err)
	}
	return ack, nil
}

func (c *RecentMessages) Query(ctx context.Context, roomID domain.RoomID, since time.Time, limit int) ([]domain.Message, error) {
	return c.store.Query(ctx, roomID, since, limit)
}

func (c *RecentMessages) LastSequence(ctx context.Context, roomID domain.RoomID) (uint64, error) {
	if source, ok := c.store.(contract.SequenceSource); ok {
		return source.LastSequence(ctx, roomID)
	}
	return 0, nil
}

// Latest reads the n newest messages of the room from the store, oldest first.
func (c *RecentMessages) Latest(ctx context.Context, roomID domain.RoomID, n int) ([]domain.Message, error) {
	if reader, ok := c.store.(contract.LatestReader); ok {
		return reader.Latest(ctx, roomID, n)
	}
	messages, err := c.store.Query(ctx, roomID, time.Time{}, 0)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return messages, nil
	}
	return lo.Subset(messages, -n, uint(n)), nil
}

// Recent returns up to n of the latest cached messages of the room, oldest first.
// A cold cache falls back to the store.
func (c *RecentMessages) Recent(ctx context.Context, roomID domain.RoomID, n int) ([]domain.Message, error) {
	if n <= 0 || n > c.size {
		n = c.size
	}
	raw, err := c.client.LRange(ctx, key(roomID), 0, int64(n-1)).Result()
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("cache range error: %w", err)
	}
	if len(raw) == 0 {
		c.misses.Add(1)
		return c.Latest(ctx, roomID, n)
	}

	messages := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var message domain.Message
		if err := json.Unmarshal([]byte(item), &message); err != nil {
			c.errors.Add(1)
			return nil, fmt.Errorf("cache unmarshal error: %w", err)
		}
		messages = append(messages, message)
	}
	// Persistence workers may write slightly out of order
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	c.hits.Add(1)
	return messages, nil
}

func (c *RecentMessages) push(ctx context.Context, message domain.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	k := key(message.Room)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, data)
		pipe.LTrim(ctx, k, 0, int64(c.size-1))
		pipe.Expire(ctx, k, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	c.sets.Add(1)
	return nil
}

func (c *RecentMessages) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errors.Load(),
	}
}

// Ping checks if the Redis connection is healthy.
func (c *RecentMessages) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func key(roomID domain.RoomID) string {
	return keyPrefix + string(roomID)
}
