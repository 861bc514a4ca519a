package services

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"chat-hub/mocks"
	"chat-hub/runtime"
	"chat-hub/runtime/workers"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	service   *ChatService
	identity  *mocks.MockIdentityProvider
	directory *mocks.MockRoomDirectory
	store     *mocks.MockMessageStore
	sink      *mocks.MockConnectionSink
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(domain.Ack{}, nil).AnyTimes()
	sink := mocks.NewMockConnectionSink(ctrl)
	sink.EXPECT().Deliver(gomock.Any()).Return(nil).AnyTimes()

	o, err := runtime.NewOrchestrator(logs.GetLoggerFromLevel(slog.LevelDebug), runtime.Options{
		FanoutShards:     1,
		FanoutBufferSize: 16,
		LivenessWindow:   time.Minute,
		SweepInterval:    time.Hour,
		Persistence: workers.PersistenceConfig{
			QueueSize:      16,
			Workers:        1,
			EnqueueTimeout: 10 * time.Millisecond,
			MaxAttempts:    1,
		},
		DrainTimeout:    time.Second,
		SinkBufferSize:  16,
		SinkTimeout:     10 * time.Millisecond,
		HistoryLimit:    20,
		CharReplacement: '*',
	}, store, nil)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)

	identity := mocks.NewMockIdentityProvider(ctrl)
	directory := mocks.NewMockRoomDirectory(ctrl)
	return fixture{
		service:   NewChatService(o, identity, directory, 10),
		identity:  identity,
		directory: directory,
		store:     store,
		sink:      sink,
	}
}

func (f fixture) connect(t *testing.T, user domain.UserID, conn domain.ConnectionID) {
	t.Helper()
	f.identity.EXPECT().Verify(gomock.Any(), "token-"+string(user)).Return(user, nil)
	_, err := f.service.Connect(context.Background(), "token-"+string(user), conn, f.sink)
	require.NoError(t, err)
}

func TestChatService_Connect_Rejects_Bad_Credential(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.identity.EXPECT().Verify(gomock.Any(), "forged").Return(domain.UserID(""), errors.ErrInvalidCredential)

	_, err := f.service.Connect(context.Background(), "forged", "c1", f.sink)

	req.ErrorIs(err, errors.ErrInvalidCredential)
	req.Equal("unauthorized", ErrorCode(err))
}

func TestChatService_Join_Then_Message(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "alice", "c1")
	f.directory.EXPECT().RoomExists(gomock.Any(), domain.RoomID("general")).Return(true, nil)

	_, err := f.service.Handle(ctx, "c1", Command{Type: CommandJoin, Room: "general"})
	req.NoError(err)
	reply, err := f.service.Handle(ctx, "c1", Command{Type: CommandMessage, Room: "general", Content: "hi"})

	req.NoError(err)
	req.NotNil(reply.Message)
	req.Equal(uint64(1), reply.Message.Seq)
	req.Equal(domain.UserID("alice"), reply.Message.Sender)
}

func TestChatService_Join_Unknown_Room(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.connect(t, "alice", "c1")
	f.directory.EXPECT().RoomExists(gomock.Any(), domain.RoomID("nowhere")).Return(false, nil)

	_, err := f.service.Handle(context.Background(), "c1", Command{Type: CommandJoin, Room: "nowhere"})

	req.ErrorIs(err, errors.ErrRoomNotFound)
	req.Equal("room_not_found", ErrorCode(err))
}

func TestChatService_Presence_Feed_Skips_Directory(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.connect(t, "alice", "c1")

	_, err := f.service.Handle(context.Background(), "c1", Command{Type: CommandJoin, Room: domain.PresenceRoom})
	req.NoError(err)

	_, err = f.service.Handle(context.Background(), "c1", Command{Type: CommandMessage, Room: domain.PresenceRoom, Content: "hi"})
	req.ErrorIs(err, errors.ErrReservedRoom)
}

func TestChatService_Invalid_Commands(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "alice", "c1")

	tests := []struct {
		name string
		cmd  Command
		err  error
	}{
		{"Unknown type", Command{Type: "shout", Room: "general"}, errors.ErrInvalidFrame},
		{"Missing type", Command{Room: "general"}, errors.ErrInvalidFrame},
		{"Join without room", Command{Type: CommandJoin}, errors.ErrInvalidFrame},
		{"Empty message", Command{Type: CommandMessage, Room: "general"}, errors.ErrInvalidFrame},
		{"Room too long", Command{Type: CommandJoin, Room: domain.RoomID(strings.Repeat("r", 129))}, errors.ErrInvalidFrame},
		{"Negative limit", Command{Type: CommandHistory, Room: "general", Limit: -1}, errors.ErrInvalidFrame},
		{"Content too long", Command{Type: CommandMessage, Room: "general", Content: strings.Repeat("a", 11)}, errors.ErrContentTooLong},
		{"Not subscribed", Command{Type: CommandMessage, Room: "general", Content: "hi"}, errors.ErrNotSubscribed},
		{"History of a foreign room", Command{Type: CommandHistory, Room: "general"}, errors.ErrNotSubscribed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Handle(context.Background(), "c1", tt.cmd)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestChatService_Heartbeat_And_Presence(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.connect(t, "bob", "c2")
	f.connect(t, "alice", "c1")

	_, err := f.service.Handle(context.Background(), "c1", Command{Type: CommandHeartbeat})
	req.NoError(err)
	reply, err := f.service.Handle(context.Background(), "c1", Command{Type: CommandPresence})

	req.NoError(err)
	req.Equal([]domain.UserID{"alice", "bob"}, reply.Online)
}

func TestChatService_History(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "alice", "c1")
	f.directory.EXPECT().RoomExists(gomock.Any(), gomock.Any()).Return(true, nil)
	_, err := f.service.Handle(ctx, "c1", Command{Type: CommandJoin, Room: "general"})
	req.NoError(err)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := []domain.Message{{Room: "general", Content: "old", Type: domain.MessageText}}
	f.store.EXPECT().Query(gomock.Any(), domain.RoomID("general"), since, 20).Return(stored, nil)

	// When asking for more than the server allows
	reply, err := f.service.Handle(ctx, "c1", Command{Type: CommandHistory, Room: "general", Since: since, Limit: 500})

	// Then the limit is capped
	req.NoError(err)
	req.Equal(stored, reply.Messages)
}

func TestChatService_Disconnect(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "alice", "c1")

	f.service.Disconnect(context.Background(), "c1")

	_, err := f.service.Handle(context.Background(), "c1", Command{Type: CommandHeartbeat})
	require.ErrorIs(t, err, errors.ErrUnknownConnection)
}
