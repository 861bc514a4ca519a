package workers

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/mocks"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestEventSinkBridge_Drops_When_Buffer_Is_Full(t *testing.T) {
	req := require.New(t)
	telemetry := make(chan event.Event, 10)

	// Given a bridge nobody consumes
	bridge := NewEventSinkBridge(slog.Default(), nil, 2, time.Second, telemetry)
	evt := event.MessagePosted{Message: domain.Message{Room: "general", Type: domain.MessageText}}

	// When publishing more than the buffer holds
	req.True(bridge.Publish(evt))
	req.True(bridge.Publish(evt))
	done := make(chan bool)
	go func() { done <- bridge.Publish(evt) }()

	// Then the call returned at once and the drop was counted
	select {
	case accepted := <-done:
		req.False(accepted)
	case <-time.After(100 * time.Millisecond):
		req.Fail("Publish must never block")
	}
	req.Equal(uint64(1), bridge.Dropped())
	sample := (<-telemetry).Payload.(event.SinkDropped)
	req.Equal(event.TopicChatMessages, sample.Topic)
}

func TestEventSinkBridge_Forwards_To_Topic(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockEventPublisher(ctrl)

	text := event.MessagePosted{Message: domain.Message{Room: "general", Type: domain.MessageText}}
	notice := event.MessagePosted{Message: domain.Message{Room: "general", Type: domain.MessageSystem}}
	typing := event.UserTyping{Message: domain.Message{Room: "general", Type: domain.MessageTyping}}
	presence := event.PresenceChanged{UserID: "alice", Status: domain.Online}

	done := make(chan struct{})
	gomock.InOrder(
		publisher.EXPECT().Publish(gomock.Any(), event.TopicChatMessages, text).Return(nil),
		publisher.EXPECT().Publish(gomock.Any(), event.TopicSystemNotifications, notice).Return(nil),
		publisher.EXPECT().Publish(gomock.Any(), event.TopicUserActivity, typing).Return(fmt.Errorf("nats down")),
		publisher.EXPECT().Publish(gomock.Any(), event.TopicUserActivity, presence).
			DoAndReturn(func(context.Context, event.Topic, event.DomainEvent) error {
				close(done)
				return nil
			}),
	)

	bridge := NewEventSinkBridge(slog.Default(), publisher, 10, time.Second, make(chan event.Event, 1))
	for _, e := range []event.DomainEvent{text, notice, typing, presence} {
		req.True(bridge.Publish(e))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bridge.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("events not forwarded")
	}
	req.Eventually(func() bool { return bridge.Published() == 3 }, time.Second, 5*time.Millisecond)
	req.Equal(uint64(1), bridge.Failed())
}
