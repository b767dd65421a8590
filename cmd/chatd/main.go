package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/comigor/citizen-assistant/internal/agent"
	"github.com/comigor/citizen-assistant/internal/backend"
	"github.com/comigor/citizen-assistant/internal/config"
	"github.com/comigor/citizen-assistant/internal/llm"
	"github.com/comigor/citizen-assistant/internal/logger"
	"github.com/comigor/citizen-assistant/internal/telemetry"
)

const (
	sessionTTL    = 30 * time.Minute
	pruneInterval = 5 * time.Minute
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	closer := logger.Init(cfg.Log)
	defer closer.Close()

	// Initialize LLM client
	llmClient := llm.NewClient(cfg.LLM)
	srv := backend.New(agent.New(llmClient, cfg.LLM))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, "chatd", cfg.Telemetry)
	if err != nil {
		logger.L.Warn("telemetry disabled", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	srv.StartPruner(ctx, pruneInterval, sessionTTL)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.L.Info("starting server", "address", httpServer.Addr, "model", cfg.LLM.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.L.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("forced shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.L.Error("failed to flush telemetry", "error", err)
	}
}
