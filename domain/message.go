// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once the room pipeline has ordered them.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageTyping MessageType = "typing"
)

// Durable tells if the message has to reach the message store.
func (t MessageType) Durable() bool {
	return t == MessageText || t == MessageSystem
}

// Sequenced tells if the message consumes a room sequence number.
func (t MessageType) Sequenced() bool {
	return t == MessageText
}

// Critical messages are never evicted from the persistence queue.
func (t MessageType) Critical() bool {
	return t == MessageText
}

// Message represents a chat event routed through a room.
type Message struct {
	ID        uuid.UUID   `json:"id"`
	Room      RoomID      `json:"room"`
	Sender    UserID      `json:"sender"`
	Content   string      `json:"content,omitempty"`
	Type      MessageType `json:"type"`
	IsTyping  bool        `json:"is_typing,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Seq       uint64      `json:"seq,omitempty"`
	Lang      string      `json:"lang,omitempty"`
	Censored  []string    `json:"censored,omitempty"`
}

// InboundEvent is what a client asks to publish into a room.
type InboundEvent struct {
	Type     MessageType
	Content  string
	IsTyping bool
}

func TextEvent(content string) InboundEvent {
	return InboundEvent{Type: MessageText, Content: content}
}

func TypingEvent(isTyping bool) InboundEvent {
	return InboundEvent{Type: MessageTyping, IsTyping: isTyping}
}

// Notice is a system message announced by the server itself.
type Notice string

func JoinedNotice(user UserID) Notice {
	return Notice(string(user) + " joined the chat")
}

func LeftNotice(user UserID) Notice {
	return Notice(string(user) + " left the chat")
}

// Ack is returned by the message store once a message is durable.
type Ack struct {
	ID       uuid.UUID
	StoredAt time.Time
}
