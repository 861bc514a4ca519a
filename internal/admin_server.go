package internal

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/observability"
	"chat-hub/runtime"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/lo"
)

// AdminBackend is the part of the orchestrator operators can reach.
type AdminBackend interface {
	RoomSubscriberCount(roomID domain.RoomID) int
	ForceDisconnect(ctx context.Context, connectionID domain.ConnectionID) bool
	ListOnline() []domain.UserID
	Stats() runtime.Stats
}

type ProcessStatsProvider func() observability.ProcessStats

type AdminServer struct {
	log     *slog.Logger
	backend AdminBackend
	process ProcessStatsProvider
	metrics http.Handler
}

// NewAdminServer accepts a nil process provider and a nil metrics handler.
func NewAdminServer(log *slog.Logger, backend AdminBackend, process ProcessStatsProvider, metrics http.Handler) *AdminServer {
	return &AdminServer{log: log, backend: backend, process: process, metrics: metrics}
}

func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/rooms/{room}/subscribers", s.subscribers)
	mux.HandleFunc("DELETE /admin/connections/{id}", s.disconnect)
	mux.HandleFunc("GET /admin/presence", s.presence)
	mux.HandleFunc("GET /admin/stats", s.stats)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

type subscribersResponse struct {
	Room        domain.RoomID `json:"room"`
	Subscribers int           `json:"subscribers"`
}

type presenceResponse struct {
	Online []string `json:"online"`
	Count  int      `json:"count"`
}

type statsResponse struct {
	Connections      int                         `json:"connections"`
	OnlineUsers      int                         `json:"online_users"`
	TextMessages     uint64                      `json:"text_messages"`
	SystemNotices    uint64                      `json:"system_notices"`
	TypingIndicators uint64                      `json:"typing_indicators"`
	Delivered        uint64                      `json:"delivered"`
	DeliveryDropped  uint64                      `json:"delivery_dropped"`
	Persistence      map[string]uint64           `json:"persistence"`
	Sink             map[string]uint64           `json:"event_sink"`
	WorkerRestarts   uint64                      `json:"worker_restarts"`
	Telemetry        map[string]uint64           `json:"telemetry"`
	Process          *observability.ProcessStats `json:"process,omitempty"`
}

func (s *AdminServer) subscribers(w http.ResponseWriter, r *http.Request) {
	room := domain.RoomID(r.PathValue("room"))
	writeJSON(w, http.StatusOK, subscribersResponse{
		Room:        room,
		Subscribers: s.backend.RoomSubscriberCount(room),
	})
}

func (s *AdminServer) disconnect(w http.ResponseWriter, r *http.Request) {
	connectionID := domain.ConnectionID(r.PathValue("id"))
	if !s.backend.ForceDisconnect(r.Context(), connectionID) {
		http.Error(w, "unknown connection", http.StatusNotFound)
		return
	}
	s.log.Info("Connection closed by an operator", "connection_id", connectionID, "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) presence(w http.ResponseWriter, _ *http.Request) {
	online := lo.Map(s.backend.ListOnline(), func(u domain.UserID, _ int) string { return string(u) })
	writeJSON(w, http.StatusOK, presenceResponse{Online: online, Count: len(online)})
}

func (s *AdminServer) stats(w http.ResponseWriter, _ *http.Request) {
	stats := s.backend.Stats()
	resp := statsResponse{
		Connections:      stats.Connections,
		OnlineUsers:      stats.OnlineUsers,
		TextMessages:     stats.TextMessages,
		SystemNotices:    stats.SystemNotices,
		TypingIndicators: stats.TypingIndicators,
		Delivered:        stats.Delivered,
		DeliveryDropped:  stats.DeliveryDropped,
		Persistence: map[string]uint64{
			"queued":    uint64(stats.Persistence.Queued),
			"persisted": stats.Persistence.Persisted,
			"failed":    stats.Persistence.Failed,
			"rejected":  stats.Persistence.Rejected,
			"evicted":   stats.Persistence.Evicted,
		},
		Sink: map[string]uint64{
			"buffered":  uint64(stats.SinkBuffered),
			"published": stats.SinkPublished,
			"failed":    stats.SinkFailed,
			"dropped":   stats.SinkDropped,
		},
		WorkerRestarts: stats.WorkerRestarts,
		Telemetry: lo.MapKeys(stats.TelemetryCounters, func(_ uint64, t event.Type) string {
			return string(t)
		}),
	}
	if s.process != nil {
		process := s.process()
		resp.Process = &process
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
