package main

import (
	"chat-relay/api"
	"chat-relay/auth"
	"chat-relay/broadcast"
	"chat-relay/contract"
	"chat-relay/gateway"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	grpc3 "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Exit codes to provide meaningful status to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred closes run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.NormalizedLogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := buildVerifier(config, logger)
	if err != nil {
		return exitConfig, err
	}

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	registry := repositories.NewConnectionRepository(db, logger, config.ConnectionTTL, config.RegistryPageSize)
	store := repositories.NewMessageRepository(db, logger, config.RegistryPageSize)
	outbox, err := repositories.NewOutboxRepository(db, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("outbox opening failed: %w", err)
	}
	defer func() { _ = outbox.Close() }()

	// 3. Domain services and transport
	metrics := observability.NewMetrics()
	channel := runtime.NewChannel(logger, outbox, config.BufferSize)
	chat := services.NewChatService(logger, verifier, registry, store, channel, config.MaxContentLength)
	gw := gateway.NewGateway(logger, chat, gateway.Options{
		InsecureSkipOrigin: config.WSInsecureOrigin,
		Reject: func(w http.ResponseWriter, _ *http.Request, err error) {
			api.WriteError(w, logger, err)
		},
	})
	chat.WithSessions(gw)
	if words := moderation.ParseWords(config.CensoredWords); len(words) > 0 {
		filter, err := moderation.NewFilter(words, '*')
		if err != nil {
			return exitConfig, fmt.Errorf("censored words: %w", err)
		}
		chat.WithFilter(filter)
		logger.Info("Content moderation enabled", "words", len(words))
	}

	engine := broadcast.NewEngine(logger, registry, gw, metrics, broadcast.Options{
		DeliveryTimeout:  config.DeliveryTimeout,
		BroadcastTimeout: config.BroadcastTimeout,
		Concurrency:      config.BroadcastConcurrency,
	})

	// 4. Workers
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	for i := 0; i < config.NumberOfWorkers; i++ {
		sup.Add(workers.NewConsumer(logger, channel, engine, outbox))
	}
	sup.Add(
		workers.NewRedelivery(logger, channel, outbox, config.RedeliveryInterval),
		workers.NewHeartbeat(logger, config.HeartbeatInterval, gw.Count, channel, metrics),
	)
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		sup.Run(ctx)
	}()

	// 5. Servers
	var inspect http.Handler
	if logger.Enabled(ctx, slog.LevelDebug) {
		inspect = internal.InspectHandler(db, repositories.InspectMapper)
		logger.Info("Debug Badger inspector available", "path", "/inspect")
	}
	httpServer := &http.Server{
		Addr: config.Address(),
		Handler: api.NewRouter(logger, chat, api.Options{
			AdminAPIKey: config.AdminAPIKey,
			RateLimit:   config.HTTPRateLimit,
			WebSocket:   gw,
			Metrics:     metrics.Handler(),
			Inspect:     inspect,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 2)
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	grpcServer, err := startHealthServer(config, logger, errChan)
	if err != nil {
		return exitRuntime, err
	}

	// 6. Wait for Stop or Error
	code := exitOK
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case err = <-errChan:
		logger.Error("Server failed", "error", err)
		code = exitRuntime
	}

	// 7. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.BroadcastTimeout)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("HTTP shutdown incomplete", "error", shutdownErr)
	}
	sup.Stop()
	<-supervisorDone
	channel.Close()
	logger.Info("Program stopped cleanly")

	return code, err
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

func buildVerifier(config internal.Config, logger *slog.Logger) (contract.ICredentialVerifier, error) {
	switch {
	case config.AuthSecret != "":
		return auth.NewVerifier(auth.NewHMACKeys(config.AuthSecret), config.AuthIssuer), nil
	case config.AuthJWKSURL != "":
		keys := auth.NewJWKSKeys(config.AuthJWKSURL, config.AuthJWKSTTL, &http.Client{Timeout: 5 * time.Second}, logger)
		return auth.NewVerifier(keys, config.AuthIssuer), nil
	case config.AuthInsecureSkipVerify:
		logger.Warn("Token signatures are NOT verified, never run this outside development")
		return auth.NewInsecureVerifier(config.AuthIssuer), nil
	default:
		return nil, fmt.Errorf("no credential verifier configured")
	}
}

// startHealthServer exposes the gRPC health protocol for orchestrators. A zero port disables it.
func startHealthServer(config internal.Config, logger *slog.Logger, errChan chan<- error) (*grpc.Server, error) {
	if config.GRPCPort == 0 {
		return nil, nil
	}
	address := fmt.Sprintf("%s:%d", config.Host, config.GRPCPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(logger)))
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthServer)

	go func() {
		logger.Info("Starting gRPC health server", "address", address)
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	return s, nil
}
