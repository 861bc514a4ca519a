package main

import (
	"chat-hub/auth"
	"chat-hub/contract"
	"chat-hub/infrastructure/broker"
	"chat-hub/infrastructure/cache"
	"chat-hub/infrastructure/storage"
	"chat-hub/internal"
	"chat-hub/observability"
	"chat-hub/runtime"
	"chat-hub/services"
	"chat-hub/transport/ws"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component, serves until a signal arrives, then shuts down in order:
// listeners first, then the orchestrator draining persistence, then the stores.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	opts, err := config.OrchestratorOptions()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Message store (BadgerDB), optionally behind the Redis recent cache
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	var store contract.MessageStore = storage.NewMessageRepository(db, log)

	if config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		defer func() { _ = client.Close() }()
		recent := cache.NewRecentMessages(store, client, log, config.RecentCacheSize, config.RecentCacheTTL)
		if err := recent.Ping(context.Background()); err != nil {
			log.Warn("Redis unreachable, recent messages will be read from the store", "addr", config.RedisAddr, "error", err)
		}
		store = recent
	}

	// 3. External event log (NATS)
	var publisher contract.EventPublisher
	if config.NatsURL != "" {
		conn, err := broker.Connect(config.NatsURL, "chat-hub")
		if err != nil {
			return exitRuntime, fmt.Errorf("nats connection failed: %w", err)
		}
		defer conn.Close()
		publisher = broker.NewPublisher(conn, log, config.NatsSubjectPrefix)
	}

	// 4. Orchestration & telemetry
	orchestrator, err := runtime.NewOrchestrator(log, opts, store, publisher)
	if err != nil {
		return exitConfig, fmt.Errorf("orchestrator setup failed: %w", err)
	}
	metrics := observability.NewMetrics(orchestrator.Stats)
	orchestrator.AddTelemetryHandlers(metrics)
	monitoring, err := observability.NewMonitoringManager(log, config.MetricInterval)
	if err != nil {
		return exitRuntime, fmt.Errorf("process monitoring failed: %w", err)
	}
	orchestrator.AddWorkers(monitoring)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Start(ctx); err != nil {
		return exitRuntime, fmt.Errorf("orchestrator failed to start: %w", err)
	}
	defer orchestrator.Stop()

	// 6. Listeners
	service := services.NewChatService(orchestrator, auth.NewTokenVerifier(config.JwtSecret), nil, config.MaxContentLength)
	chat := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           ws.NewServer(log, service, config.ConnectionBufferSize).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	admin := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.AdminPort),
		Handler:           internal.NewAdminServer(log, orchestrator, monitoring.GetLatest, metrics.Handler()).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 3)
	serve := func(name string, s *http.Server) {
		log.Info("Starting HTTP server", "name", name, "address", s.Addr, "at", time.Now().UTC())
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("%s server error: %w", name, err)
		}
	}
	go serve("chat", chat)
	go serve("admin", admin)

	var (
		healthServer *grpc.Server
		healthStatus *health.Server
	)
	if config.GrpcHealthPort > 0 {
		address := fmt.Sprintf("%s:%d", config.Host, config.GrpcHealthPort)
		listener, err := net.Listen("tcp", address)
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
		}
		healthServer, healthStatus = internal.NewHealthServer()
		go func() {
			log.Info("Starting gRPC health server", "address", address)
			if err := healthServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errChan <- fmt.Errorf("gRPC health server error: %w", err)
			}
		}()
	}

	// 7. Wait for Stop or Error
	code := exitOK
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err = <-errChan:
		log.Error("Server failed, shutting down", "error", err)
		code = exitRuntime
	}

	// 8. Final Cleanup, deferred stores close after the orchestrator drained
	if healthStatus != nil {
		healthStatus.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = chat.Shutdown(shutdownCtx)
	_ = admin.Shutdown(shutdownCtx)
	if healthServer != nil {
		healthServer.GracefulStop()
	}
	orchestrator.Stop()
	log.Info("Program stopped cleanly")
	return code, err
}
