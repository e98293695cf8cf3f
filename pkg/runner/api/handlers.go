package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/aegis-scan/aegis/pkg/models"
)

// StartScanRequest is the controller's scan submission payload.
type StartScanRequest struct {
	ScanID string             `json:"scan_id"`
	Config *models.ScanConfig `json:"config"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	installed := s.engine.Installed()
	status := "healthy"
	if !installed {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":          status,
		"garak_installed": installed,
	})
}

func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"version": s.engine.Version(c.Request().Context()),
	})
}

func (s *Server) listPluginsHandler(c *echo.Context) error {
	kind := c.Param("kind")
	switch kind {
	case "probes", "detectors", "generators", "buffs":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid plugin type: %s", kind))
	}

	plugins, err := s.engine.ListPlugins(c.Request().Context(), kind)
	if err != nil {
		slog.Error("Plugin listing failed", "kind", kind, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "plugin listing failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"plugins":     plugins,
		"total_count": len(plugins),
	})
}

func (s *Server) startScanHandler(c *echo.Context) error {
	var req StartScanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ScanID == "" || req.Config == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "scan_id and config are required")
	}

	if !s.engine.Installed() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "garak is not installed")
	}

	record, err := s.manager.StartScan(req.ScanID, req.Config)
	if err != nil {
		slog.Error("Failed to start scan", "scan_id", req.ScanID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, models.StartScanResponse{
		ScanID:  record.ScanID,
		Status:  string(record.Status),
		Message: "Scan started",
	})
}

// scanProgressHandler streams the scan's event queue as SSE. The stream
// ends when the queue closes after the terminal event.
func (s *Server) scanProgressHandler(c *echo.Context) error {
	scanID := c.Param("id")
	queue := s.manager.Events(scanID)
	if queue == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Scan %s not found", scanID))
	}
	if !queue.Subscribe() {
		return echo.NewHTTPError(http.StatusConflict,
			fmt.Sprintf("Scan %s already has an active progress consumer", scanID))
	}
	defer queue.Unsubscribe()

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	var w http.ResponseWriter = resp
	flusher, _ := w.(http.Flusher)
	ctx := c.Request().Context()

	for {
		ev, ok := queue.Pop(ctx)
		if !ok {
			return nil
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Encoding progress event failed", "scan_id", scanID, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.EventType, data); err != nil {
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) scanStatusHandler(c *echo.Context) error {
	scanID := c.Param("id")
	record := s.manager.Status(scanID)
	if record == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Scan %s not found", scanID))
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) cancelScanHandler(c *echo.Context) error {
	scanID := c.Param("id")
	if !s.manager.Cancel(scanID) {
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("Scan %s not found or not cancellable", scanID))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"scan_id": scanID,
		"status":  string(models.StatusCancelled),
	})
}

func (s *Server) listScansHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"scans": s.manager.ListActive(),
	})
}

func (s *Server) listReportsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"files": s.manager.ListReportFiles(),
	})
}

func (s *Server) getReportHandler(c *echo.Context) error {
	filename := c.Param("filename")
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid filename")
	}

	path := filepath.Join(s.manager.ReportsDir(), filename)
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Report %s not found", filename))
	}

	contentType := "application/json"
	if strings.HasSuffix(filename, ".html") {
		contentType = "text/html"
	}
	c.Response().Header().Set("Content-Type", contentType)
	return c.File(path)
}
