package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"tote-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// Component names the running relay binary, e.g. "tote-proxy".
type Component string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg       *config.Config
	version   Version
	component Component
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, comp Component) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, component: comp}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":         "ok",
		"component":      string(h.component),
		"version":        string(h.version),
		"exchange_url":   h.cfg.Exchange.BaseURL,
		"archive_driver": h.cfg.Archive.Driver,
	})
}
