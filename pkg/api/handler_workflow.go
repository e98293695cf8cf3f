package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// ensureWorkflow rebuilds a graph from the persisted report when no live
// graph exists, which is the normal case for completed scans after a
// restart.
func (s *Server) ensureWorkflow(c *echo.Context, scanID string) {
	if s.scans.Analyzer().Graph(scanID) != nil {
		return
	}
	entries := s.scans.Reader().Entries(c.Request().Context(), scanID)
	if entries != nil {
		s.scans.Analyzer().BuildFromEntries(scanID, entries)
	}
}

// workflowGraphHandler handles GET /api/v1/scan/:id/workflow.
func (s *Server) workflowGraphHandler(c *echo.Context) error {
	scanID := c.Param("id")
	s.ensureWorkflow(c, scanID)

	graph := s.scans.Analyzer().Graph(scanID)
	if graph == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no workflow data for scan "+scanID)
	}
	return c.JSON(http.StatusOK, graph)
}

// workflowTimelineHandler handles GET /api/v1/scan/:id/workflow/timeline.
func (s *Server) workflowTimelineHandler(c *echo.Context) error {
	scanID := c.Param("id")
	s.ensureWorkflow(c, scanID)

	timeline := s.scans.Analyzer().Timeline(scanID)
	if timeline == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no workflow data for scan "+scanID)
	}
	return c.JSON(http.StatusOK, timeline)
}

type workflowExportRequest struct {
	Format string `json:"format"`
}

// workflowExportHandler handles POST /api/v1/scan/:id/workflow/export.
// Supported formats: json, mermaid.
func (s *Server) workflowExportHandler(c *echo.Context) error {
	scanID := c.Param("id")

	var req workflowExportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid export request: "+err.Error())
	}
	if req.Format == "" {
		req.Format = "json"
	}

	s.ensureWorkflow(c, scanID)

	data, err := s.scans.Analyzer().Export(scanID, req.Format)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if data == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no workflow data for scan "+scanID)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"scan_id": scanID,
		"format":  req.Format,
		"data":    data,
	})
}

// workflowClearHandler handles DELETE /api/v1/scan/:id/workflow.
func (s *Server) workflowClearHandler(c *echo.Context) error {
	scanID := c.Param("id")
	s.scans.Analyzer().Clear(scanID)
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Workflow data cleared for scan " + scanID,
	})
}
