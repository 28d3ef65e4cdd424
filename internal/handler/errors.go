package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"tote-relay/internal/service"
	"tote-relay/internal/stocks"
)

// userinfoPattern matches credentials embedded in URLs that end up in error messages.
var userinfoPattern = regexp.MustCompile(`(?i)(https?://)[^/\s"@]+@`)

// mapError writes a JSON {"error": ...} body for err. Caller mistakes are 4xx;
// anything that went wrong on the way to an upstream is 502 or 504.
func mapError(c echo.Context, logger *slog.Logger, err error) error {
	status, msg := classify(err)

	attrs := []any{
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
		"status", status,
	}
	if status < http.StatusInternalServerError {
		logger.Warn("request rejected", attrs...)
	} else {
		logger.Error("relay error", attrs...)
	}

	return c.JSON(status, map[string]string{"error": msg})
}

func classify(err error) (int, string) {
	if errors.Is(err, service.ErrMissingTarget) {
		return http.StatusBadRequest, service.ErrMissingTarget.Error()
	}

	if errors.Is(err, service.ErrInvalidTarget) {
		return http.StatusBadRequest, service.ErrInvalidTarget.Error()
	}

	if errors.Is(err, service.ErrTargetNotAllowed) {
		return http.StatusForbidden, service.ErrTargetNotAllowed.Error()
	}

	if errors.Is(err, stocks.ErrInvalidTimestamp) {
		return http.StatusBadRequest, stocks.ErrInvalidTimestamp.Error()
	}

	if errors.Is(err, stocks.ErrUpstreamStatus) {
		return http.StatusBadGateway, "upstream returned an error status"
	}

	if errors.Is(err, stocks.ErrMalformedBody) {
		return http.StatusBadGateway, "upstream returned malformed data"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, "client disconnected"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "upstream host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return http.StatusGatewayTimeout, "upstream request timed out"
		}
		return http.StatusBadGateway, "upstream connection failed"
	}

	return http.StatusBadGateway, "upstream request failed"
}

// sanitizeError redacts URL credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
