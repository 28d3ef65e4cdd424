// Package cors answers preflight requests and marks relayed responses as
// readable by the calling origin.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"tote-relay/internal/config"
)

// Header names.
const (
	HeaderAllowOrigin    = "Access-Control-Allow-Origin"
	HeaderAllowMethods   = "Access-Control-Allow-Methods"
	HeaderAllowHeaders   = "Access-Control-Allow-Headers"
	HeaderMaxAge         = "Access-Control-Max-Age"
	HeaderRequestMethod  = "Access-Control-Request-Method"
	HeaderRequestHeaders = "Access-Control-Request-Headers"
	HeaderOrigin         = "Origin"
	HeaderVary           = "Vary"
	HeaderAllow          = "Allow"
)

// Policy is the fixed CORS header table.
type Policy struct {
	AllowOrigin  string
	AllowMethods string
	MaxAge       string
	Allow        string
}

// NewPolicy builds the header table from configuration.
func NewPolicy(cfg *config.Config) *Policy {
	return &Policy{
		AllowOrigin:  cfg.CORS.AllowOrigin,
		AllowMethods: cfg.CORS.AllowMethods,
		MaxAge:       strconv.Itoa(cfg.CORS.MaxAgeSeconds),
		Allow:        cfg.CORS.Allow,
	}
}

// IsPreflight reports whether h carries Origin, Access-Control-Request-Method
// and Access-Control-Request-Headers. Presence counts, even with empty values.
func IsPreflight(h http.Header) bool {
	return present(h, HeaderOrigin) &&
		present(h, HeaderRequestMethod) &&
		present(h, HeaderRequestHeaders)
}

// Preflight returns the response headers for an OPTIONS request with request
// headers h. A full CORS preflight gets the policy table plus the requested
// headers echoed back verbatim; anything else only learns the allowed methods.
func (p *Policy) Preflight(h http.Header) http.Header {
	out := make(http.Header)
	if !IsPreflight(h) {
		out.Set(HeaderAllow, p.Allow)
		return out
	}
	out.Set(HeaderAllowOrigin, p.AllowOrigin)
	out.Set(HeaderAllowMethods, p.AllowMethods)
	out.Set(HeaderMaxAge, p.MaxAge)
	out.Set(HeaderAllowHeaders, strings.Join(h.Values(HeaderRequestHeaders), ", "))
	return out
}

// Grant marks a relayed response as readable by origin.
func Grant(h http.Header, origin string) {
	h.Set(HeaderAllowOrigin, origin)
	h.Add(HeaderVary, HeaderOrigin)
}

// CallerOrigin returns the Origin header of r, or the origin of the URL r was
// addressed to when the header is absent.
func CallerOrigin(r *http.Request) string {
	if origin := r.Header.Get(HeaderOrigin); origin != "" {
		return origin
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

func present(h http.Header, key string) bool {
	return len(h.Values(key)) > 0
}
