// Package api exposes the runner's HTTP/SSE surface on the scan host.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aegis-scan/aegis/pkg/runner"
)

// Server is the runner's HTTP server. It wraps the scan manager; all
// endpoints operate on in-memory scan state and local spool files.
type Server struct {
	echo    *echo.Echo
	httpSrv *http.Server

	manager *runner.Manager
	engine  *runner.Engine
}

// NewServer registers all runner routes.
func NewServer(manager *runner.Manager, engine *runner.Engine) *Server {
	s := &Server{
		echo:    echo.New(),
		manager: manager,
		engine:  engine,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)
	e.GET("/version", s.versionHandler)
	e.GET("/plugins/:kind", s.listPluginsHandler)

	e.POST("/scans", s.startScanHandler)
	e.GET("/scans", s.listScansHandler)
	e.GET("/scans/:id/progress", s.scanProgressHandler)
	e.GET("/scans/:id/status", s.scanStatusHandler)
	e.DELETE("/scans/:id", s.cancelScanHandler)

	e.GET("/reports", s.listReportsHandler)
	e.GET("/reports/:filename", s.getReportHandler)
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
