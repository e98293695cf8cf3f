package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aegis-scan/aegis/pkg/database"
	"github.com/aegis-scan/aegis/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Only the controller's own
// dependencies (database) are checked; the runner is reported separately
// via /api/v1/system/health so an unhealthy scan host does not get the
// controller restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	httpStatus := http.StatusOK

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, map[string]any{
		"status":   status,
		"database": dbHealth,
	})
}

// versionHandler handles GET /version.
func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"name":    version.AppName,
		"version": version.Get(),
	})
}

// systemInfoHandler handles GET /api/v1/system/info, merging the
// runner's engine info with the controller's own version.
func (s *Server) systemInfoHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	info := map[string]any{
		"backend_version": version.Get(),
		"garak_installed": false,
	}

	if health, err := s.scans.Runner().Health(ctx); err == nil {
		if installed, ok := health["garak_installed"].(bool); ok {
			info["garak_installed"] = installed
		}
	}
	if ver, err := s.scans.Runner().Version(ctx); err == nil {
		info["garak_version"] = ver["version"]
	}
	if generators, err := s.scans.Runner().ListPlugins(ctx, "generators"); err == nil {
		info["available_generators"] = generators
	}

	return c.JSON(http.StatusOK, info)
}

// systemHealthHandler handles GET /api/v1/system/health, reporting the
// runner service's view of the scan engine.
func (s *Server) systemHealthHandler(c *echo.Context) error {
	health, err := s.scans.Runner().Health(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{
			"status":          healthStatusDegraded,
			"garak_available": false,
			"message":         err.Error(),
		})
	}
	return c.JSON(http.StatusOK, health)
}

// pluginInfo mirrors the runner's plugin listing with display names.
type pluginInfo struct {
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// listPluginsHandler returns a handler for GET /api/v1/plugins/{kind}.
// Listing delegates to the runner, which shells out to the engine.
func (s *Server) listPluginsHandler(kind string) func(c *echo.Context) error {
	return func(c *echo.Context) error {
		names, err := s.scans.Runner().ListPlugins(c.Request().Context(), kind)
		if err != nil {
			return mapServiceError(err)
		}

		plugins := make([]pluginInfo, 0, len(names))
		for _, name := range names {
			plugins = append(plugins, pluginInfo{
				Name:        name,
				FullName:    kind + "." + name,
				Description: pluginDescription(kind, name),
				Active:      true,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"plugins":     plugins,
			"total_count": len(plugins),
		})
	}
}

func pluginDescription(kind, name string) string {
	switch kind {
	case "generators":
		return "Generator interface for " + name
	case "probes":
		return "Vulnerability probe: " + name
	case "detectors":
		return "Result detector: " + name
	case "buffs":
		return "Input transformation: " + name
	}
	return name
}
