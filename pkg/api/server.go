// Package api exposes the controller's versioned HTTP surface: scan
// lifecycle and read APIs under /api/v1, WebSocket progress streaming,
// and plugin discovery delegated to the runner service.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aegis-scan/aegis/pkg/controller"
	"github.com/aegis-scan/aegis/pkg/database"
)

// Server is the controller's HTTP server.
type Server struct {
	echo    *echo.Echo
	httpSrv *http.Server

	scans    *controller.Service
	dbClient *database.Client
}

// NewServer registers all controller routes.
func NewServer(scans *controller.Service, dbClient *database.Client) *Server {
	s := &Server{
		echo:     echo.New(),
		scans:    scans,
		dbClient: dbClient,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)
	e.GET("/version", s.versionHandler)

	v1 := e.Group("/api/v1")

	scan := v1.Group("/scan")
	scan.POST("/start", s.startScanHandler)
	scan.GET("/history", s.scanHistoryHandler)
	scan.GET("/statistics", s.statisticsHandler)
	scan.GET("/:id/status", s.scanStatusHandler)
	scan.GET("/:id/results", s.scanResultsHandler)
	scan.GET("/:id/probes", s.probeDetailsHandler)
	scan.GET("/:id/probes/:probe/attempts", s.probeAttemptsHandler)
	scan.GET("/:id/report/html", s.htmlReportHandler)
	scan.GET("/:id/report/detailed", s.detailedReportHandler)
	scan.GET("/:id/progress", s.progressWSHandler)
	scan.DELETE("/:id/cancel", s.cancelScanHandler)
	scan.DELETE("/:id", s.deleteScanHandler)

	scan.GET("/:id/workflow", s.workflowGraphHandler)
	scan.GET("/:id/workflow/timeline", s.workflowTimelineHandler)
	scan.POST("/:id/workflow/export", s.workflowExportHandler)
	scan.DELETE("/:id/workflow", s.workflowClearHandler)

	plugins := v1.Group("/plugins")
	plugins.GET("/probes", s.listPluginsHandler("probes"))
	plugins.GET("/detectors", s.listPluginsHandler("detectors"))
	plugins.GET("/generators", s.listPluginsHandler("generators"))
	plugins.GET("/buffs", s.listPluginsHandler("buffs"))

	v1.GET("/system/info", s.systemInfoHandler)
	v1.GET("/system/health", s.systemHealthHandler)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
