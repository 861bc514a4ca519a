package ws

import (
	"chat-hub/auth"
	"chat-hub/domain"
	"chat-hub/mocks"
	"chat-hub/runtime"
	"chat-hub/runtime/workers"
	"chat-hub/services"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/net/websocket"
)

type harness struct {
	server       *httptest.Server
	verifier     *auth.TokenVerifier
	orchestrator *runtime.Orchestrator
}

func newHarness(t *testing.T) harness {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(domain.Ack{}, nil).AnyTimes()
	store.EXPECT().Query(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	o, err := runtime.NewOrchestrator(log, runtime.Options{
		FanoutShards:     2,
		FanoutBufferSize: 32,
		LivenessWindow:   time.Minute,
		SweepInterval:    time.Hour,
		Persistence: workers.PersistenceConfig{
			QueueSize: 32, Workers: 1, EnqueueTimeout: 10 * time.Millisecond, MaxAttempts: 1,
		},
		DrainTimeout:    time.Second,
		SinkBufferSize:  32,
		SinkTimeout:     10 * time.Millisecond,
		HistoryLimit:    20,
		CharReplacement: '*',
	}, store, nil)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))

	verifier := auth.NewTokenVerifier("websocket_test_secret")
	service := services.NewChatService(o, verifier, nil, 100)
	srv := httptest.NewServer(NewServer(log, service, 16).Handler())
	t.Cleanup(func() {
		srv.Close()
		o.Stop()
	})
	return harness{server: srv, verifier: verifier, orchestrator: o}
}

func (h harness) dial(t *testing.T, user domain.UserID) *websocket.Conn {
	t.Helper()
	token, err := h.verifier.GenerateToken(user, time.Hour)
	require.NoError(t, err)
	conn, err := h.dialWithToken(token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	welcome := readFrame(t, conn)
	require.Equal(t, FrameWelcome, welcome.Type)
	return conn
}

func (h harness) dialWithToken(token string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, h.server.URL)
	if err != nil {
		return nil, err
	}
	cfg.Header = make(http.Header)
	if token != "" {
		cfg.Header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DialConfig(cfg)
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, json.NewEncoder(conn).Encode(frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got Frame
	require.NoError(t, json.NewDecoder(conn).Decode(&got))
	return got
}

// readUntil skips frames until one of the wanted type shows up.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if frame := readFrame(t, conn); frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame received", frameType)
	return Frame{}
}

func TestServer_Rejects_Missing_Or_Bad_Token(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	_, err := h.dialWithToken("")
	req.Error(err)
	_, err = h.dialWithToken("forged")
	req.Error(err)
	req.Zero(h.orchestrator.Stats().Connections)
}

func TestServer_Join_And_Chat(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	writeFrame(t, alice, map[string]any{"type": "join", "room": "general", "request_id": "j1"})
	req.Equal(FrameAck, readUntil(t, alice, FrameAck).Type)
	writeFrame(t, bob, map[string]any{"type": "join", "room": "general", "request_id": "j2"})
	readUntil(t, bob, FrameAck)

	// When alice talks
	writeFrame(t, alice, map[string]any{"type": "message", "room": "general", "content": "hi", "request_id": "m1"})
	ack := readUntil(t, alice, FrameAck)
	req.Equal("m1", ack.RequestID)

	// Then bob receives it with its sequence number
	var message domain.Message
	for {
		frame := readUntil(t, bob, FrameMessage)
		req.NoError(json.Unmarshal(frame.Payload, &message))
		if message.Type == domain.MessageText {
			break
		}
	}
	req.Equal("hi", message.Content)
	req.Equal(domain.UserID("alice"), message.Sender)
	req.Equal(uint64(1), message.Seq)
}

func TestServer_Error_Frames(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.dial(t, "alice")

	writeFrame(t, alice, map[string]any{"type": "message", "room": "general", "content": "hi", "request_id": "m1"})
	frame := readUntil(t, alice, FrameError)

	req.Equal("m1", frame.RequestID)
	var payload errorPayload
	req.NoError(json.Unmarshal(frame.Payload, &payload))
	req.Equal("not_subscribed", payload.Code)
}

func TestServer_Typing_And_Presence(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	for _, conn := range []*websocket.Conn{alice, bob} {
		writeFrame(t, conn, map[string]any{"type": "join", "room": "general"})
		readUntil(t, conn, FrameAck)
	}

	writeFrame(t, alice, map[string]any{"type": "typing", "room": "general", "is_typing": true})
	frame := readUntil(t, bob, FrameTyping)
	var typing typingPayload
	req.NoError(json.Unmarshal(frame.Payload, &typing))
	req.Equal(domain.UserID("alice"), typing.UserID)
	req.True(typing.IsTyping)

	writeFrame(t, bob, map[string]any{"type": "presence", "request_id": "p1"})
	online := readUntil(t, bob, FrameOnline)
	var users onlinePayload
	req.NoError(json.Unmarshal(online.Payload, &users))
	req.Equal([]domain.UserID{"alice", "bob"}, users.Users)
}

func TestServer_Closing_Socket_Deregisters(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.dial(t, "alice")
	writeFrame(t, alice, map[string]any{"type": "join", "room": "general"})
	readUntil(t, alice, FrameAck)
	req.Equal(1, h.orchestrator.RoomSubscriberCount("general"))

	_ = alice.Close()

	req.Eventually(func() bool {
		return h.orchestrator.RoomSubscriberCount("general") == 0 && h.orchestrator.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}
