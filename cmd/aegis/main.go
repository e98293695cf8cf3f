// aegis controller server — durable scan registry, report analysis, and
// the public HTTP API. Delegates scan execution to a garakd runner.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aegis-scan/aegis/pkg/api"
	"github.com/aegis-scan/aegis/pkg/controller"
	"github.com/aegis-scan/aegis/pkg/database"
	"github.com/aegis-scan/aegis/pkg/reports"
	"github.com/aegis-scan/aegis/pkg/services"
	"github.com/aegis-scan/aegis/pkg/storage"
	"github.com/aegis-scan/aegis/pkg/version"
	"github.com/aegis-scan/aegis/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", value)
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	httpPort := getEnv("AEGIS_PORT", "8888")
	runnerURL := getEnv("GARAK_SERVICE_URL", "http://localhost:9090")
	reportsDir := getEnv("REPORTS_DIR", "./data/reports")
	maxConcurrent := getEnvInt("MAX_CONCURRENT_SCANS", 3)

	slog.Info("Starting aegis",
		"version", version.Full(),
		"http_port", httpPort,
		"runner_url", runnerURL,
		"max_concurrent_scans", maxConcurrent)

	ctx := context.Background()

	// 1. Initialize database (applies pending migrations)
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
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Scan registry store, plus a one-time backfill so reports that
	// predate the database (or survived a wipe) reappear in history
	store := services.NewScanStore(dbClient.DB())
	if n, err := store.BackfillFromReports(ctx, reportsDir); err != nil {
		slog.Warn("Report backfill failed", "error", err)
	} else if n > 0 {
		slog.Info("Backfilled scans from report files", "count", n)
	}

	// 3. Blob store for report artifacts
	blobs, err := storage.FromEnv(ctx, reportsDir)
	if err != nil {
		slog.Error("Failed to initialize storage backend", "error", err)
		os.Exit(1)
	}

	// 4. Runner client, report reader, workflow analyzer
	runnerClient := controller.NewRunnerClient(runnerURL)
	reader := reports.NewReader(blobs, store, runnerClient, reportsDir)
	analyzer := workflow.NewAnalyzer()

	// 5. Scan lifecycle service
	registry := controller.NewRegistry()
	scans := controller.NewService(registry, store, runnerClient, reader, analyzer, blobs, reportsDir, maxConcurrent)
	slog.Info("Services initialized")

	// 6. Start HTTP server (non-blocking)
	httpServer := api.NewServer(scans, dbClient)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("aegis started successfully")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown. Active scans keep running on the runner;
	// their records are re-adopted from the database on restart.
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
