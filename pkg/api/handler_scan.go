package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/aegis-scan/aegis/pkg/models"
)

// startScanHandler handles POST /api/v1/scan/start.
func (s *Server) startScanHandler(c *echo.Context) error {
	var cfg models.ScanConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scan config: "+err.Error())
	}

	scanID, err := s.scans.Submit(c.Request().Context(), &cfg)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, models.StartScanResponse{
		ScanID:  scanID,
		Status:  string(models.StatusPending),
		Message: "Scan initiated successfully",
	})
}

// scanStatusHandler handles GET /api/v1/scan/:id/status.
func (s *Server) scanStatusHandler(c *echo.Context) error {
	rec, err := s.scans.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// scanHistoryHandler handles GET /api/v1/scan/history. Supports
// pagination, status/target/search filters, a date range, and sorting.
func (s *Server) scanHistoryHandler(c *echo.Context) error {
	filter := models.HistoryFilter{
		Page:      intQueryParam(c, "page", 1),
		PageSize:  intQueryParam(c, "page_size", 20),
		SortBy:    c.QueryParam("sort_by"),
		SortOrder: c.QueryParam("sort_order"),
		Target:    c.QueryParam("target"),
		Search:    c.QueryParam("search"),
		StartDate: c.QueryParam("start_date"),
		EndDate:   c.QueryParam("end_date"),
	}
	if status := c.QueryParam("status"); status != "" {
		for _, st := range strings.Split(status, ",") {
			if st = strings.TrimSpace(st); st != "" {
				filter.Statuses = append(filter.Statuses, st)
			}
		}
	}

	items, total, err := s.scans.Store().List(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}

	// Overlay live registry state so an active scan's row reflects the
	// current progress even before the next persistence point.
	for i := range items {
		if live := s.scans.Registry().Get(items[i].ScanID); live != nil {
			items[i].Status = live.Status
			items[i].Passed = live.Passed
			items[i].Failed = live.Failed
			items[i].PassRate = live.PassRate()
		}
	}

	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	totalPages := (total + pageSize - 1) / pageSize

	return c.JSON(http.StatusOK, models.HistoryResponse{
		Scans:      items,
		Total:      total,
		Page:       filter.Page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// scanResultsHandler handles GET /api/v1/scan/:id/results.
func (s *Server) scanResultsHandler(c *echo.Context) error {
	scanID := c.Param("id")
	ctx := c.Request().Context()

	rec, err := s.scans.Status(ctx, scanID)
	if err != nil {
		return mapServiceError(err)
	}

	active := s.scans.Registry().Get(scanID) != nil
	results := s.scans.Reader().Results(ctx, rec, active)
	if results == nil {
		return echo.NewHTTPError(http.StatusNotFound, "results not available for scan "+scanID)
	}
	return c.JSON(http.StatusOK, results)
}

// statisticsHandler handles GET /api/v1/scan/statistics.
func (s *Server) statisticsHandler(c *echo.Context) error {
	days := intQueryParam(c, "days", 30)
	scans, err := s.scans.All(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	stats := s.scans.Reader().Statistics(c.Request().Context(), scans, days)
	return c.JSON(http.StatusOK, stats)
}

// cancelScanHandler handles DELETE /api/v1/scan/:id/cancel.
func (s *Server) cancelScanHandler(c *echo.Context) error {
	scanID := c.Param("id")
	if err := s.scans.Cancel(c.Request().Context(), scanID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Scan " + scanID + " cancelled successfully",
	})
}

// deleteScanHandler handles DELETE /api/v1/scan/:id.
func (s *Server) deleteScanHandler(c *echo.Context) error {
	scanID := c.Param("id")
	if err := s.scans.Delete(c.Request().Context(), scanID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Scan " + scanID + " deleted",
	})
}

func intQueryParam(c *echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
