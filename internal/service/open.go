package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"tote-relay/internal/client"
	"tote-relay/internal/config"
	"tote-relay/internal/model"
)

var (
	// ErrMissingTarget is returned when the url query parameter is absent or empty.
	ErrMissingTarget = errors.New("url query parameter is required")
	// ErrInvalidTarget is returned when the url query parameter is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("url query parameter must be an absolute http or https URL")
	// ErrTargetNotAllowed is returned when the target host is outside relay.allowed_hosts.
	ErrTargetNotAllowed = errors.New("target host is not allowed")
)

// OpenRelay forwards requests to the URL named by the caller's url query parameter.
type OpenRelay struct {
	client       *client.UpstreamClient
	logger       *slog.Logger
	allowedHosts map[string]bool
}

// NewOpenRelay creates an OpenRelay. An empty relay.allowed_hosts allows every host.
func NewOpenRelay(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *OpenRelay {
	var allowed map[string]bool
	if len(cfg.Relay.AllowedHosts) > 0 {
		allowed = make(map[string]bool, len(cfg.Relay.AllowedHosts))
		for _, h := range cfg.Relay.AllowedHosts {
			allowed[strings.ToLower(h)] = true
		}
	}

	return &OpenRelay{
		client:       c,
		logger:       logger.With("component", "open_relay"),
		allowedHosts: allowed,
	}
}

// ParseTarget validates the raw url query parameter.
func ParseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingTarget
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidTarget
	}
	return u, nil
}

// Origin returns the scheme://host[:port] origin of u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// Forward sends pr to the URL in its url query parameter, with Origin set to
// that URL's own origin. Non-2xx upstream statuses are returned as ordinary
// responses. The caller is responsible for closing the response body.
func (s *OpenRelay) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := ParseTarget(pr.Query.Get("url"))
	if err != nil {
		return nil, err
	}
	if s.allowedHosts != nil && !s.allowedHosts[strings.ToLower(target.Hostname())] {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotAllowed, target.Hostname())
	}

	header := cloneForwardable(pr.Header)
	header.Set("Origin", Origin(target))

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target_host", target.Host,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target.String(), header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to target: %w", err)
	}

	resp.Header = stripHopByHop(resp.Header)
	return resp, nil
}
