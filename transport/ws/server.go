package ws

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"chat-hub/services"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const maxDecodeErrorsPerConn = 5

// Server upgrades authenticated HTTP requests to websocket connections.
// The credential is checked before the upgrade, an anonymous client never
// reaches the registry.
type Server struct {
	log        *slog.Logger
	service    services.IChatService
	bufferSize int
}

func NewServer(log *slog.Logger, service services.IChatService, bufferSize int) *Server {
	return &Server{log: log, service: service, bufferSize: bufferSize}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ws", s.serveWS)
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	connectionID := domain.ConnectionID(uuid.NewString())
	sink := NewSink(s.bufferSize)
	// The request context ends with the handshake, the connection lives longer
	ctx := context.WithoutCancel(r.Context())
	conn, err := s.service.Connect(ctx, credentialFromRequest(r), connectionID, sink)
	if err != nil {
		status := http.StatusServiceUnavailable
		switch {
		case stderrors.Is(err, errors.ErrInvalidCredential):
			status = http.StatusUnauthorized
		case stderrors.Is(err, errors.ErrDuplicateConnection):
			status = http.StatusConflict
		}
		s.log.Debug("Websocket rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, services.ErrorCode(err), status)
		return
	}
	defer s.service.Disconnect(ctx, connectionID)

	websocket.Handler(func(ws *websocket.Conn) {
		s.handle(ctx, ws, conn, sink)
	}).ServeHTTP(w, r)
}

// credentialFromRequest reads a bearer token, or the token query parameter for browsers.
func credentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (p *peer) write(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (s *Server) handle(ctx context.Context, ws *websocket.Conn, conn domain.Connection, sink *Sink) {
	defer func() { _ = ws.Close() }()
	p := &peer{encoder: json.NewEncoder(ws)}

	var wg sync.WaitGroup
	stopWriter := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ws, p, sink, stopWriter)
	}()
	defer func() {
		close(stopWriter)
		wg.Wait()
	}()

	_ = p.write(Frame{Type: FrameWelcome, Payload: mustJSON(welcomePayload{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
	})})

	decoder := json.NewDecoder(ws)
	decodeErrors := 0
	for {
		var cmd services.Command
		if err := decoder.Decode(&cmd); err != nil {
			if stderrors.Is(err, io.EOF) || isClosed(err) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !stderrors.As(err, &syntaxErr) && !stderrors.As(err, &typeErr) {
				return
			}
			decodeErrors++
			_ = p.write(errorFrame("", errors.ErrInvalidFrame))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			// A broken stream can't be resynchronized
			decoder = json.NewDecoder(ws)
			continue
		}
		decodeErrors = 0
		if err := p.write(s.dispatch(ctx, conn.ID, cmd)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, connectionID domain.ConnectionID, cmd services.Command) Frame {
	reply, err := s.service.Handle(ctx, connectionID, cmd)
	if err != nil {
		s.log.Debug("Command rejected", "connection_id", connectionID, "type", cmd.Type, "error", err)
		return errorFrame(cmd.RequestID, err)
	}
	switch cmd.Type {
	case services.CommandHistory:
		return Frame{Type: FrameHistory, RequestID: cmd.RequestID,
			Payload: mustJSON(historyPayload{Room: cmd.Room, Messages: reply.Messages})}
	case services.CommandPresence:
		return Frame{Type: FrameOnline, RequestID: cmd.RequestID,
			Payload: mustJSON(onlinePayload{Users: reply.Online})}
	}
	frame := Frame{Type: FrameAck, RequestID: cmd.RequestID}
	if reply.Message != nil {
		frame.Payload = mustJSON(reply.Message)
	}
	return frame
}

// writeLoop is the only reader of the sink. A closed sink closes the socket,
// which in turn ends the read loop.
func (s *Server) writeLoop(ws *websocket.Conn, p *peer, sink *Sink, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-sink.Done():
			_ = ws.Close()
			return
		case e := <-sink.Events():
			frame, ok := eventFrame(e)
			if !ok {
				continue
			}
			if err := p.write(frame); err != nil {
				s.log.Debug("Websocket write failed", "error", err)
				_ = ws.Close()
				return
			}
		}
	}
}

func errorFrame(requestID string, err error) Frame {
	return Frame{Type: FrameError, RequestID: requestID, Payload: mustJSON(errorPayload{
		Code:    services.ErrorCode(err),
		Message: err.Error(),
	})}
}

func isClosed(err error) bool {
	return stderrors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "use of closed network connection")
}
