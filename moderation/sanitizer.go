package moderation

import (
	"chat-hub/domain"

	"github.com/abadojack/whatlanggo"
)

// Sanitizer prepares text messages before they are ordered in a room:
// forbidden words are censored and the language is tagged.
type Sanitizer struct {
	moderator *Moderator
}

func NewSanitizer(moderator *Moderator) *Sanitizer {
	return &Sanitizer{moderator: moderator}
}

func (s *Sanitizer) Sanitize(message domain.Message) domain.Message {
	if message.Type != domain.MessageText || message.Content == "" {
		return message
	}
	message.Lang = whatlanggo.Detect(message.Content).Lang.Iso6391()
	if s.moderator != nil {
		message.Content, message.Censored = s.moderator.Censor(message.Content)
	}
	return message
}
