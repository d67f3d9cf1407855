package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokenAggregator/config"
	"tokenAggregator/internal/app"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	// Create cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutting down...")
		cancel()
	}()

	log.Info("Initializing app...", "env", cfg.Env)
	application, err := app.NewApp(ctx, log, cfg)
	if err != nil {
		log.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}

	log.Info("Starting refresh workers...", "concurrency", cfg.WorkerConcurrency)
	go func() {
		if err := application.Processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Refresh processor stopped", "error", err)
			cancel()
		}
	}()

	log.Info("Starting scheduler...", "interval", cfg.RefreshInterval, "defaults", cfg.DefaultQueries)
	go func() {
		if err := application.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Scheduler stopped", "error", err)
			cancel()
		}
	}()

	// Start HTTP server in a goroutine
	go func() {
		log.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := application.HTTPServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Create a timeout context for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Info("Shutting down HTTP server...")
	if err := application.HTTPServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", "error", err)
	}

	log.Info("Cleaning up app resources...")
	application.Cleanup(shutdownCtx)

	log.Info("Service stopped.")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default: // envLocal and unknown values
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}
