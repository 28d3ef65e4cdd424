package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"tote-relay/internal/client"
	"tote-relay/internal/config"
	"tote-relay/internal/model"
)

// Endpoint pairs a /stocks path suffix with the exchange page and AJAX method it relays to.
type Endpoint struct {
	Name      string
	Suffix    string
	PathQuery string
}

// Exchange endpoints exposed under /stocks.
var (
	AllStocks = Endpoint{
		Name:      "get_all_stocks",
		Suffix:    "/get_all_stocks",
		PathQuery: "home.html?method=getSecuritiesAndIndicesForPublic&ajax=true",
	}
	TopActiveStocks = Endpoint{
		Name:      "get_top_active_stocks",
		Suffix:    "/get_top_active_stocks",
		PathQuery: "dailySummary.html?method=getTopActiveStocks&ajax=true",
	}
	TopSecurity = Endpoint{
		Name:      "get_top_security",
		Suffix:    "/get_top_security",
		PathQuery: "dailySummary.html?method=getTopSecurity&limit=10&ajax=true",
	}
	AdvancedSecurity = Endpoint{
		Name:      "get_advanced_security",
		Suffix:    "/get_advanced_security",
		PathQuery: "dailySummary.html?method=getAdvancedSecurity&ajax=true",
	}
	DeclinesSecurity = Endpoint{
		Name:      "get_declines_security",
		Suffix:    "/get_declines_security",
		PathQuery: "dailySummary.html?method=getDeclinesSecurity&ajax=true",
	}
	// MarketIndices also answers every /stocks path that matches no other suffix.
	MarketIndices = Endpoint{
		Name:      "get_market_indices",
		Suffix:    "/get_market_indices",
		PathQuery: "dailySummary.html?method=getMarketIndices&ajax=true",
	}
)

// ExchangeEndpoints lists the suffix-matched endpoints in match order.
var ExchangeEndpoints = []Endpoint{
	AllStocks,
	TopActiveStocks,
	TopSecurity,
	AdvancedSecurity,
	DeclinesSecurity,
}

// ExchangeRelay forwards requests to the exchange's AJAX endpoints while
// presenting them as in-page XMLHttpRequests from the exchange's own site.
type ExchangeRelay struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL string
	spoof   string
}

// NewExchangeRelay creates an ExchangeRelay.
func NewExchangeRelay(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ExchangeRelay, error) {
	u, err := url.Parse(cfg.Exchange.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse exchange base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("exchange base_url %q is not absolute", cfg.Exchange.BaseURL)
	}

	return &ExchangeRelay{
		client:  c,
		logger:  logger.With("component", "exchange_relay"),
		baseURL: strings.TrimSuffix(cfg.Exchange.BaseURL, "/") + "/",
		spoof:   cfg.Exchange.SpoofOrigin,
	}, nil
}

// Forward sends pr to the exchange page named by ep. Method, headers and body
// of pr are kept except for the spoofed Origin, Referer and X-Requested-With.
// Non-2xx upstream statuses are returned as ordinary responses.
// The caller is responsible for closing the response body.
func (s *ExchangeRelay) Forward(pr *model.ProxyRequest, ep Endpoint) (*model.ProxyResponse, error) {
	target := s.OutboundURL(ep)
	header := s.rewriteHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"endpoint", ep.Name,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to exchange: %w", err)
	}

	resp.Header = stripHopByHop(resp.Header)
	return resp, nil
}

// OutboundURL returns the exchange URL for ep.
func (s *ExchangeRelay) OutboundURL(ep Endpoint) string {
	return s.baseURL + ep.PathQuery
}

func (s *ExchangeRelay) rewriteHeaders(src http.Header) http.Header {
	dst := cloneForwardable(src)
	dst.Set("Origin", s.spoof)
	dst.Set("Referer", s.spoof)
	dst.Set("X-Requested-With", "XMLHttpRequest")
	return dst
}
