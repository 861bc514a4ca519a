package storage

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	_ contract.MessageStore   = (*MessageRepository)(nil)
	_ contract.SequenceSource = (*MessageRepository)(nil)
	_ contract.LatestReader   = (*MessageRepository)(nil)
)

const messagePrefix = "msg:"

// MessageRepository is the Badger message log.
// Keys are "msg:{room}:{unix_nano_padded}:{uuid}" so that a prefix scan
// returns a room in chronological order. The uuid breaks ties within a nanosecond.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

func (m *MessageRepository) Append(ctx context.Context, message domain.Message) (domain.Ack, error) {
	if err := ctx.Err(); err != nil {
		return domain.Ack{}, err
	}
	bytes, err := json.Marshal(message)
	if err != nil {
		return domain.Ack{}, err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message.Room, message.CreatedAt, message.ID.String()), bytes)
	})
	if err != nil {
		return domain.Ack{}, fmt.Errorf("%w: %w", errors.ErrStoreUnavailable, err)
	}
	return domain.Ack{ID: message.ID, StoredAt: time.Now().UTC()}, nil
}

// Query returns at most limit messages of the room strictly after since, oldest first.
// A zero since reads from the beginning of the room, a limit <= 0 reads everything.
func (m *MessageRepository) Query(ctx context.Context, roomID domain.RoomID,
	since time.Time, limit int) ([]domain.Message, error) {
	prefix := roomPrefix(roomID)
	seekKey := prefix
	if !since.IsZero() {
		seekKey = append([]byte(nil), prefix...)
		seekKey = append(seekKey, fmt.Sprintf("%019d", max(since.UnixNano()+1, 0))...)
	}

	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			message, err := decode(it.Item())
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Latest walks the room backwards and returns its n newest messages, oldest first.
// A n <= 0 reads the whole room.
func (m *MessageRepository) Latest(ctx context.Context, roomID domain.RoomID, n int) ([]domain.Message, error) {
	if n <= 0 {
		return m.Query(ctx, roomID, time.Time{}, 0)
	}
	prefix := roomPrefix(roomID)
	messages := make([]domain.Message, 0, n)
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(lastKeyOf(prefix)); it.ValidForPrefix(prefix) && len(messages) < n; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			message, err := decode(it.Item())
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// LastSequence walks the room backwards up to the newest sequenced message.
func (m *MessageRepository) LastSequence(ctx context.Context, roomID domain.RoomID) (uint64, error) {
	prefix := roomPrefix(roomID)
	var last uint64
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(lastKeyOf(prefix)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			message, err := decode(it.Item())
			if err != nil {
				return err
			}
			if message.Seq > 0 {
				last = message.Seq
				return nil
			}
		}
		return nil
	})
	return last, err
}

// Scan walks every stored message, room by room. It is used by offline tooling only.
func (m *MessageRepository) Scan(fn func(message domain.Message) error) error {
	return m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(messagePrefix)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			message, err := decode(it.Item())
			if err != nil {
				return err
			}
			if err := fn(message); err != nil {
				return err
			}
		}
		return nil
	})
}

func decode(item *badger.Item) (domain.Message, error) {
	var message domain.Message
	err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &message)
	})
	return message, err
}

// roomPrefix escapes the room so that "a" never matches the keys of "a:b".
func roomPrefix(roomID domain.RoomID) []byte {
	return []byte(messagePrefix + url.QueryEscape(string(roomID)) + ":")
}

// lastKeyOf sorts after every key of the room since '~' comes after every digit.
func lastKeyOf(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), '~')
}

func messageKey(roomID domain.RoomID, at time.Time, id string) []byte {
	var b strings.Builder
	b.Write(roomPrefix(roomID))
	fmt.Fprintf(&b, "%019d:%s", max(at.UnixNano(), 0), id)
	return []byte(b.String())
}
