package ws

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"encoding/json"
	"time"
)

const (
	FrameAck      = "ack"
	FrameError    = "error"
	FrameMessage  = "message"
	FrameTyping   = "typing"
	FramePresence = "presence"
	FrameHistory  = "history"
	FrameOnline   = "online"
	FrameWelcome  = "welcome"
)

// Frame is every server to client payload.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type welcomePayload struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
	UserID       domain.UserID       `json:"user_id"`
}

type typingPayload struct {
	Room     domain.RoomID `json:"room"`
	UserID   domain.UserID `json:"user_id"`
	IsTyping bool          `json:"is_typing"`
	At       time.Time     `json:"at"`
}

type historyPayload struct {
	Room     domain.RoomID    `json:"room"`
	Messages []domain.Message `json:"messages"`
}

type onlinePayload struct {
	Users []domain.UserID `json:"users"`
}

// eventFrame turns a room event into its client frame.
func eventFrame(e event.DomainEvent) (Frame, bool) {
	switch evt := e.(type) {
	case event.MessagePosted:
		return Frame{Type: FrameMessage, Payload: mustJSON(evt.Message)}, true
	case event.UserTyping:
		return Frame{Type: FrameTyping, Payload: mustJSON(typingPayload{
			Room:     evt.Message.Room,
			UserID:   evt.Message.Sender,
			IsTyping: evt.Message.IsTyping,
			At:       evt.Message.CreatedAt,
		})}, true
	case event.PresenceChanged:
		return Frame{Type: FramePresence, Payload: mustJSON(evt)}, true
	}
	return Frame{}, false
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
