package event

import (
	"chat-hub/domain"
	"time"
)

// DomainEvent is anything delivered to the subscribers of a room.
type DomainEvent interface {
	RoomID() domain.RoomID
}

// MessagePosted carries a text message or a system notice.
type MessagePosted struct {
	Message domain.Message
}

func (m MessagePosted) RoomID() domain.RoomID {
	return m.Message.Room
}

// UserTyping is ephemeral: never sequenced, never persisted.
type UserTyping struct {
	Message domain.Message
}

func (u UserTyping) RoomID() domain.RoomID {
	return u.Message.Room
}

type PresenceChanged struct {
	UserID domain.UserID         `json:"user_id"`
	Status domain.PresenceStatus `json:"status"`
	At     time.Time             `json:"at"`
}

func (p PresenceChanged) RoomID() domain.RoomID {
	return domain.PresenceRoom
}

// Envelope wraps a message into the event matching its type.
func Envelope(m domain.Message) DomainEvent {
	if m.Type == domain.MessageTyping {
		return UserTyping{Message: m}
	}
	return MessagePosted{Message: m}
}
