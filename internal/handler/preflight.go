package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"tote-relay/internal/cors"
)

const textContentType = "text/plain;charset=UTF-8"

// PreflightHandler answers OPTIONS requests and rejects unsupported methods
// on relayed paths.
type PreflightHandler struct {
	policy *cors.Policy
}

// NewPreflightHandler creates a PreflightHandler.
func NewPreflightHandler(policy *cors.Policy) *PreflightHandler {
	return &PreflightHandler{policy: policy}
}

// Handle writes the preflight headers for the request with an empty 200 body.
func (h *PreflightHandler) Handle(c echo.Context) error {
	header := c.Response().Header()
	for key, vals := range h.policy.Preflight(c.Request().Header) {
		header[key] = vals
	}
	return c.NoContent(http.StatusOK)
}

// MethodNotAllowed answers 405 with the Allow header.
func (h *PreflightHandler) MethodNotAllowed(c echo.Context) error {
	c.Response().Header().Set(cors.HeaderAllow, h.policy.Allow)
	return c.NoContent(http.StatusMethodNotAllowed)
}

// Banner returns a handler that answers 200 with a fixed plain-text body.
func Banner(text string) echo.HandlerFunc {
	body := []byte(text)
	return func(c echo.Context) error {
		return c.Blob(http.StatusOK, textContentType, body)
	}
}
