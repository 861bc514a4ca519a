package services

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/errors"
	"chat-hub/runtime"
	"context"
	stderrors "errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

type CommandType string

const (
	CommandJoin      CommandType = "join"
	CommandLeave     CommandType = "leave"
	CommandMessage   CommandType = "message"
	CommandTyping    CommandType = "typing"
	CommandHeartbeat CommandType = "heartbeat"
	CommandHistory   CommandType = "history"
	CommandPresence  CommandType = "presence"
)

// Command is one client request, already decoded by the transport.
type Command struct {
	Type      CommandType   `json:"type" validate:"required,oneof=join leave message typing heartbeat history presence"`
	Room      domain.RoomID `json:"room,omitempty" validate:"required_if=Type join,required_if=Type leave,required_if=Type message,required_if=Type typing,required_if=Type history,max=128"`
	Content   string        `json:"content,omitempty" validate:"required_if=Type message"`
	IsTyping  bool          `json:"is_typing,omitempty"`
	Since     time.Time     `json:"since,omitempty"`
	Limit     int           `json:"limit,omitempty" validate:"gte=0"`
	RequestID string        `json:"request_id,omitempty" validate:"max=64"`
}

// Reply is what the caller gets back for a command, events come through the sink.
type Reply struct {
	Message  *domain.Message
	Messages []domain.Message
	Online   []domain.UserID
}

type IChatService interface {
	Connect(ctx context.Context, credential string, connectionID domain.ConnectionID,
		sink contract.ConnectionSink) (domain.Connection, error)
	Handle(ctx context.Context, connectionID domain.ConnectionID, cmd Command) (Reply, error)
	Disconnect(ctx context.Context, connectionID domain.ConnectionID)
}

// ChatService validates client commands before they reach the orchestrator.
type ChatService struct {
	orchestrator     *runtime.Orchestrator
	identity         contract.IdentityProvider
	directory        contract.RoomDirectory
	validator        *validator.Validate
	maxContentLength int
}

// NewChatService accepts a nil directory, every room then exists.
func NewChatService(o *runtime.Orchestrator, identity contract.IdentityProvider,
	directory contract.RoomDirectory, maxContentLength int) *ChatService {
	return &ChatService{
		orchestrator:     o,
		identity:         identity,
		directory:        directory,
		validator:        validator.New(),
		maxContentLength: maxContentLength,
	}
}

func (s *ChatService) Connect(ctx context.Context, credential string, connectionID domain.ConnectionID,
	sink contract.ConnectionSink) (domain.Connection, error) {
	userID, err := s.identity.Verify(ctx, credential)
	if err != nil {
		return domain.Connection{}, err
	}
	return s.orchestrator.Register(userID, connectionID, sink)
}

func (s *ChatService) Handle(ctx context.Context, connectionID domain.ConnectionID, cmd Command) (Reply, error) {
	if err := s.validator.Struct(cmd); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
	}

	switch cmd.Type {
	case CommandJoin:
		if err := s.checkRoom(ctx, cmd.Room); err != nil {
			return Reply{}, err
		}
		return Reply{}, s.orchestrator.Subscribe(ctx, connectionID, cmd.Room)
	case CommandLeave:
		s.orchestrator.Unsubscribe(ctx, connectionID, cmd.Room)
		return Reply{}, nil
	case CommandMessage:
		if s.maxContentLength > 0 && utf8.RuneCountInString(cmd.Content) > s.maxContentLength {
			return Reply{}, fmt.Errorf("%w: %d characters max", errors.ErrContentTooLong, s.maxContentLength)
		}
		message, err := s.orchestrator.Publish(ctx, connectionID, cmd.Room, cmd.Content)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Message: &message}, nil
	case CommandTyping:
		return Reply{}, s.orchestrator.Typing(ctx, connectionID, cmd.Room, cmd.IsTyping)
	case CommandHeartbeat:
		return Reply{}, s.orchestrator.Heartbeat(connectionID)
	case CommandHistory:
		// Reading a room requires being in it
		if _, err := s.orchestrator.Member(connectionID, cmd.Room); err != nil {
			return Reply{}, err
		}
		var (
			messages []domain.Message
			err      error
		)
		if cmd.Since.IsZero() {
			messages, err = s.orchestrator.Recent(ctx, cmd.Room, cmd.Limit)
		} else {
			messages, err = s.orchestrator.History(ctx, cmd.Room, cmd.Since, cmd.Limit)
		}
		if err != nil {
			return Reply{}, err
		}
		return Reply{Messages: messages}, nil
	case CommandPresence:
		return Reply{Online: s.orchestrator.ListOnline()}, nil
	}
	return Reply{}, errors.ErrInvalidFrame
}

func (s *ChatService) Disconnect(ctx context.Context, connectionID domain.ConnectionID) {
	s.orchestrator.Deregister(ctx, connectionID)
}

func (s *ChatService) checkRoom(ctx context.Context, roomID domain.RoomID) error {
	if s.directory == nil || roomID.IsReserved() {
		return nil
	}
	exists, err := s.directory.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", errors.ErrRoomNotFound, roomID)
	}
	return nil
}

// ErrorCode maps an error to the short code sent back to clients.
func ErrorCode(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrInvalidFrame):
		return "invalid_frame"
	case stderrors.Is(err, errors.ErrContentTooLong):
		return "content_too_long"
	case stderrors.Is(err, errors.ErrNotSubscribed):
		return "not_subscribed"
	case stderrors.Is(err, errors.ErrReservedRoom):
		return "reserved_room"
	case stderrors.Is(err, errors.ErrRoomNotFound):
		return "room_not_found"
	case stderrors.Is(err, errors.ErrUnknownConnection):
		return "unknown_connection"
	case stderrors.Is(err, errors.ErrDuplicateConnection):
		return "duplicate_connection"
	case stderrors.Is(err, errors.ErrInvalidCredential):
		return "unauthorized"
	case stderrors.Is(err, errors.ErrQueueClosed):
		return "shutting_down"
	default:
		return "internal"
	}
}
