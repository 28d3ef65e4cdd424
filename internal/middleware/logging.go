// Package middleware provides Echo middleware shared by both relays.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"tote-relay/internal/router"
)

// RequestLogger returns an Echo middleware that logs each request with slog,
// including the name of the relay rule that served it.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			rule, _ := c.Get(router.RuleKey).(string)

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"rule", rule,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
