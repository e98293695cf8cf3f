package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// htmlReportHandler handles GET /api/v1/scan/:id/report/html, serving
// the engine's HTML summary as a download.
func (s *Server) htmlReportHandler(c *echo.Context) error {
	scanID := c.Param("id")
	data, err := s.scans.HTMLReport(c.Request().Context(), scanID)
	if err != nil {
		return mapServiceError(err)
	}
	if data == nil {
		return echo.NewHTTPError(http.StatusNotFound, "HTML report not available for this scan")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="garak_report_`+scanID+`.html"`)
	return c.Blob(http.StatusOK, echo.MIMETextHTMLCharsetUTF8, data)
}

// detailedReportHandler handles GET /api/v1/scan/:id/report/detailed,
// returning the same HTML inline for embedding.
func (s *Server) detailedReportHandler(c *echo.Context) error {
	scanID := c.Param("id")
	data, err := s.scans.HTMLReport(c.Request().Context(), scanID)
	if err != nil {
		return mapServiceError(err)
	}
	if data == nil {
		return echo.NewHTTPError(http.StatusNotFound, "detailed report not available for this scan")
	}
	return c.HTML(http.StatusOK, string(data))
}
