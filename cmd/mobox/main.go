// Mobox gateway server. Executes sandboxed agents and streams their
// output to chat clients over SSE.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mobox-ai/mobox/pkg/api"
	"github.com/mobox-ai/mobox/pkg/config"
	"github.com/mobox-ai/mobox/pkg/database"
	"github.com/mobox-ai/mobox/pkg/sandbox"
	"github.com/mobox-ai/mobox/pkg/services"
	"github.com/mobox-ai/mobox/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"error", err)
	}

	ctx := context.Background()

	// 1. Load configuration
	settings, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting Mobox",
		"version", version.Full(),
		"addr", settings.Addr(),
		"sandbox_backend", settings.SandboxBackend,
		"agents_dir", settings.AgentsDir)

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Initialize domain services
	sessionService := services.NewSessionService(dbClient.Pool())
	messageService := services.NewMessageService(dbClient.Pool())
	committer := services.NewCommitter(dbClient.Pool())
	slog.Info("Services initialized")

	// 4. Initialize sandbox backend
	var runner sandbox.Runner
	var janitor *sandbox.Janitor
	switch settings.SandboxBackend {
	case config.BackendDocker:
		dockerRunner, err := sandbox.NewDockerRunner()
		if err != nil {
			slog.Error("Failed to initialize Docker runner", "error", err)
			os.Exit(1)
		}
		runner = dockerRunner

		janitor = sandbox.NewJanitor(dockerRunner, settings.JanitorInterval)
		janitor.Start(ctx)
		defer janitor.Stop()
	case config.BackendSubprocess:
		runner = sandbox.NewSubprocessRunner(settings.AgentsDir)
	}
	slog.Info("Sandbox backend initialized", "backend", settings.SandboxBackend)

	// 5. Start HTTP server (non-blocking)
	server := api.NewServer(settings, dbClient,
		sessionService, messageService, committer, runner)

	errCh := make(chan error, 1)
	go func() {
		addr := settings.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
