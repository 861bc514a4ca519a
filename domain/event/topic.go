package event

import "chat-hub/domain"

// Topic is the external event log stream an event is published on.
type Topic string

const (
	TopicChatMessages        Topic = "chat-messages"
	TopicUserActivity        Topic = "user-activity"
	TopicSystemNotifications Topic = "system-notifications"
)

func TopicOf(e DomainEvent) Topic {
	switch evt := e.(type) {
	case MessagePosted:
		if evt.Message.Type == domain.MessageSystem {
			return TopicSystemNotifications
		}
		return TopicChatMessages
	default:
		return TopicUserActivity
	}
}
