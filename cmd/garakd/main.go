// garakd runner daemon — supervises garak engine processes on the scan
// host and exposes the scan lifecycle over HTTP/SSE.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aegis-scan/aegis/pkg/runner"
	"github.com/aegis-scan/aegis/pkg/runner/api"
	"github.com/aegis-scan/aegis/pkg/storage"
	"github.com/aegis-scan/aegis/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// defaultReportsDir is where the engine writes its artifacts unless
// redirected. Matches garak's own default run directory.
func defaultReportsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./garak_runs"
	}
	return filepath.Join(home, ".local", "share", "garak", "garak_runs")
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	httpPort := getEnv("GARAKD_PORT", "9090")
	reportsDir := getEnv("REPORTS_DIR", defaultReportsDir())

	slog.Info("Starting garakd",
		"version", version.Full(),
		"http_port", httpPort,
		"reports_dir", reportsDir)

	ctx := context.Background()

	// 1. Locate the scan engine
	engine := runner.DiscoverEngine()
	if !engine.Installed() {
		slog.Warn("garak engine not found; scans will fail until it is installed")
	} else {
		slog.Info("Engine discovered", "path", engine.Path, "engine_version", engine.Version(ctx))
	}

	// 2. Prepare the report spool directory
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		slog.Error("Failed to create reports directory", "dir", reportsDir, "error", err)
		os.Exit(1)
	}

	// 3. Initialize the artifact store and uploader
	backend, err := storage.FromEnv(ctx, reportsDir)
	if err != nil {
		slog.Error("Failed to initialize storage backend", "error", err)
		os.Exit(1)
	}
	uploader := runner.NewUploader(backend, reportsDir)

	// 4. Create the scan manager
	manager := runner.NewManager(engine, uploader, reportsDir)

	// 5. Start HTTP server (non-blocking)
	httpServer := api.NewServer(manager, engine)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("garakd started successfully")

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: cancel active scans so no engine processes
	// outlive the daemon, then stop the HTTP server.
	for _, rec := range manager.ListActive() {
		if !rec.Status.IsTerminal() {
			slog.Info("Cancelling scan on shutdown", "scan_id", rec.ScanID)
			manager.Cancel(rec.ScanID)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
