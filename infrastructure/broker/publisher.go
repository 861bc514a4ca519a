package broker

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

var _ contract.EventPublisher = (*Publisher)(nil)

const EventTypeHeader = "Chat-Event-Type"

// Wire is the JSON shape of an event on the external log.
type Wire struct {
	Type     string                 `json:"type"`
	Room     domain.RoomID          `json:"room"`
	Message  *domain.Message        `json:"message,omitempty"`
	Presence *event.PresenceChanged `json:"presence,omitempty"`
}

// Publisher forwards events to NATS subjects "{prefix}.{topic}".
// Nothing is acknowledged, the event log is best-effort.
type Publisher struct {
	conn   *nats.Conn
	log    *slog.Logger
	prefix string
}

// Connect dials NATS with unlimited reconnects.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func NewPublisher(conn *nats.Conn, log *slog.Logger, prefix string) *Publisher {
	return &Publisher{conn: conn, log: log, prefix: prefix}
}

func (p *Publisher) Publish(ctx context.Context, topic event.Topic, e event.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wire, err := toWire(e)
	if err != nil {
		return err
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: p.Subject(topic),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(EventTypeHeader, wire.Type)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *Publisher) Subject(topic event.Topic) string {
	if p.prefix == "" {
		return string(topic)
	}
	return p.prefix + "." + string(topic)
}

func toWire(e event.DomainEvent) (Wire, error) {
	switch evt := e.(type) {
	case event.MessagePosted:
		return Wire{Type: string(evt.Message.Type), Room: evt.RoomID(), Message: &evt.Message}, nil
	case event.UserTyping:
		return Wire{Type: string(evt.Message.Type), Room: evt.RoomID(), Message: &evt.Message}, nil
	case event.PresenceChanged:
		return Wire{Type: "presence", Room: evt.RoomID(), Presence: &evt}, nil
	default:
		return Wire{}, fmt.Errorf("unsupported event %T", e)
	}
}
