package internal

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ChatService is the name reported by the gRPC health service.
const ChatService = "chat-hub.Chat"

// NewHealthServer returns a gRPC server exposing only the standard health service.
// The caller flips the status to NOT_SERVING when shutdown begins.
func NewHealthServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.SetServingStatus(ChatService, grpc_health_v1.HealthCheckResponse_SERVING)
	return s, h
}
