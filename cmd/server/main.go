package main

import (
	"chat-roulette/contract"
	"chat-roulette/infrastructure/grpc/server"
	"chat-roulette/infrastructure/httpapi"
	transport "chat-roulette/infrastructure/websocket"
	"chat-roulette/internal"
	"chat-roulette/moderation"
	"chat-roulette/observability"
	"chat-roulette/repositories"
	"chat-roulette/runtime"
	"chat-roulette/runtime/ratelimit"
	"chat-roulette/runtime/workers"
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

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 5 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred cleanups run.
func run() (int, error) {
	// 1. Configuration & Logger
	// A missing .env is fine, the environment wins anyway.
	_ = godotenv.Load()
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, err
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Transcript store
	db, err := repositories.OpenBadger(config.BadgerFilepath, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(context.Background(), slog.LevelDebug) && config.DebugPort > 0 {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		database.StartDebugServer(db, config.DebugPort, endpoint, TranscriptMapper)
	}

	var censor contract.Censor
	if words := moderation.ParseWords(config.CensoredWords); len(words) > 0 {
		moderator, err := moderation.NewModerator(words, charReplacement, logger)
		if err != nil {
			return exitConfig, fmt.Errorf("moderator init failed: %w", err)
		}
		censor = moderator
	}

	// 3. Actors under supervision
	metrics := observability.NewMetrics()
	sup := workers.NewSupervisor(logger, config.RestartInterval, metrics)
	rooms := runtime.NewRoomDirectory(sup,
		repositories.NewTranscriptRepository(db, logger),
		censor,
		runtime.RoomSettings{MaxContentLength: config.MaxContentLength, CallTimeout: config.ActorCallTimeout},
		time.Now, metrics, logger)
	limiters := ratelimit.NewDirectory(sup, ratelimit.Settings{
		Quantum:     config.RateLimitQuantum,
		Burst:       config.RateLimitBurst,
		IdleTimeout: config.LimiterIdleTimeout,
		CallTimeout: config.ActorCallTimeout,
	}, time.Now, logger)
	matchmaker := runtime.NewMatchmaker(runtime.MatchmakerSettings{
		Strategy:         config.Strategy(),
		PairingInterval:  config.PairingInterval,
		BufferSize:       config.MatchmakerBufferSize,
		MaxContentLength: config.MaxContentLength,
		CallTimeout:      config.ActorCallTimeout,
		MaxPending:       config.ConnectionBufferSize,
	}, rooms, limiters, time.Now, metrics, logger)
	sup.Add(matchmaker, workers.NewTelemetryWorker(logger, config.MetricInterval, matchmaker, metrics))

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervised, cancel := context.WithCancel(ctx)
	defer cancel()
	supervisorDone := make(chan struct{})
	go func() {
		sup.Run(supervised)
		close(supervisorDone)
	}()

	errChan := make(chan error, 2)

	// 5. HTTP & websocket surface
	handler := httpapi.NewChatHandler(matchmaker, httpapi.Settings{
		AllowedOrigins:    config.AllowedOrigins(),
		MaxUsernameLength: config.MaxUsernameLength,
		Connection:        transport.DefaultSettings(config.ConnectionBufferSize),
	}, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           httpapi.NewRouter(handler, metrics, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 6. Optional gRPC ops server
	var grpcServer *grpc.Server
	if config.GRPCPort > 0 {
		address := fmt.Sprintf("%s:%d", config.Host, config.GRPCPort)
		listener, err := net.Listen("tcp", address)
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
		}
		grpcServer = server.NewGRPCServer(logger, server.NewMatchmakerServer(matchmaker, logger))
		go func() {
			logger.Info("Starting gRPC server", "address", address)
			for serviceName := range grpcServer.GetServiceInfo() {
				logger.Debug("gRPC exposed services", "name", serviceName)
			}
			if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errChan <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	// 7. Wait for Stop or Error
	code, runErr := exitOK, error(nil)
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
	}

	// 8. Final Cleanup
	// Websockets are hijacked and outlive Shutdown, the matchmaker closes them when cancelled.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	cancel()
	select {
	case <-supervisorDone:
	case <-shutdownCtx.Done():
		logger.Warn("Workers still running at exit")
	}
	logger.Info("Program stopped cleanly")

	return code, runErr
}
