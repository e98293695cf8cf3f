package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// probeDetailsHandler handles GET /api/v1/scan/:id/probes. Returns the
// per-probe breakdown with security context, worst pass rate first.
func (s *Server) probeDetailsHandler(c *echo.Context) error {
	scanID := c.Param("id")
	details := s.scans.Reader().ProbeDetails(
		c.Request().Context(),
		scanID,
		c.QueryParam("probe_filter"),
		intQueryParam(c, "page", 1),
		intQueryParam(c, "page_size", 50),
	)
	if details == nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not available for scan "+scanID)
	}
	return c.JSON(http.StatusOK, details)
}

// probeAttemptsHandler handles GET /api/v1/scan/:id/probes/:probe/attempts.
func (s *Server) probeAttemptsHandler(c *echo.Context) error {
	scanID := c.Param("id")
	attempts := s.scans.Reader().ProbeAttempts(
		c.Request().Context(),
		scanID,
		c.Param("probe"),
		c.QueryParam("status_filter"),
		intQueryParam(c, "page", 1),
		intQueryParam(c, "page_size", 20),
	)
	if attempts == nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not available for scan "+scanID)
	}
	return c.JSON(http.StatusOK, attempts)
}
