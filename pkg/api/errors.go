package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aegis-scan/aegis/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "scan not found")
	}
	if errors.Is(err, services.ErrNotCancellable) {
		return echo.NewHTTPError(http.StatusBadRequest, "scan is not in a cancellable state")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "scan already exists")
	}
	if errors.Is(err, services.ErrAtCapacity) {
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	}
	if errors.Is(err, services.ErrEngineUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scan engine is not available")
	}
	if errors.Is(err, services.ErrUpstream) {
		return echo.NewHTTPError(http.StatusBadGateway, "runner service error")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
