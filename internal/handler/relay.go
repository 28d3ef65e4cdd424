package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"tote-relay/internal/cors"
	"tote-relay/internal/model"
	"tote-relay/internal/service"
)

// ExchangeHandler relays /stocks requests to the exchange's AJAX endpoints.
type ExchangeHandler struct {
	relay  *service.ExchangeRelay
	policy *cors.Policy
	logger *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(relay *service.ExchangeRelay, policy *cors.Policy, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		relay:  relay,
		policy: policy,
		logger: logger.With("component", "exchange_handler"),
	}
}

// Endpoint returns a handler that relays to ep. Responses, including error
// responses, are readable from any origin.
func (h *ExchangeHandler) Endpoint(ep service.Endpoint) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp, err := h.relay.Forward(newProxyRequest(c.Request()), ep)
		if err != nil {
			cors.Grant(c.Response().Header(), h.policy.AllowOrigin)
			return mapError(c, h.logger, err)
		}
		return writeRelayed(c, h.logger, resp, h.policy.AllowOrigin)
	}
}

// ProxyHandler relays /proxy?url= requests to the caller-named target.
type ProxyHandler struct {
	relay  *service.OpenRelay
	logger *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(relay *service.OpenRelay, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		relay:  relay,
		logger: logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request and streams the target's response back,
// readable by the caller's own origin.
func (h *ProxyHandler) Handle(c echo.Context) error {
	origin := cors.CallerOrigin(c.Request())

	resp, err := h.relay.Forward(newProxyRequest(c.Request()))
	if err != nil {
		cors.Grant(c.Response().Header(), origin)
		return mapError(c, h.logger, err)
	}
	return writeRelayed(c, h.logger, resp, origin)
}

func newProxyRequest(req *http.Request) *model.ProxyRequest {
	return &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: req.Header,
		Body:   req.Body,
	}
}

// writeRelayed copies status, headers and body of resp to the client and
// grants origin read access. It closes resp.Body.
func writeRelayed(c echo.Context, logger *slog.Logger, resp *model.ProxyResponse, origin string) error {
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	cors.Grant(header, origin)

	c.Response().WriteHeader(resp.StatusCode)

	// Once the status line is out a failed copy can only truncate the body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		logger.Error("streaming response body",
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
		)
	}

	return nil
}
