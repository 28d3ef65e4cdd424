package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"tote-relay/internal/model"
)

// StripHopByHop returns an Echo middleware that removes hop-by-hop headers,
// and any header named in Connection, from the inbound request before a relay
// sees it.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			stripConnectionHeaders(c.Request().Header)
			return next(c)
		}
	}
}

func stripConnectionHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range model.HopByHopHeaders {
		h.Del(name)
	}
}
