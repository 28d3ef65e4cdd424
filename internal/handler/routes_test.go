package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tote-relay/internal/archive"
	"tote-relay/internal/client"
	"tote-relay/internal/config"
	"tote-relay/internal/cors"
	"tote-relay/internal/metrics"
	"tote-relay/internal/model"
	"tote-relay/internal/router"
	"tote-relay/internal/service"
	"tote-relay/internal/stocks"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// recordedCall is one request seen by the fake exchange.
type recordedCall struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

type fakeExchange struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Exchange", "pse")
	_, _ = io.WriteString(w, `{"method":"`+r.URL.Query().Get("method")+`"}`)
}

func (f *fakeExchange) last(t *testing.T) recordedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls, "exchange was not called")
	return f.calls[len(f.calls)-1]
}

func testConfig(exchangeURL string) *config.Config {
	return &config.Config{
		Exchange: config.ExchangeConfig{
			BaseURL:     exchangeURL + "/stockMarket/",
			SpoofOrigin: "http://www.pse.com.ph/stockMarket/home.html",
		},
		Upstream: config.UpstreamConfig{TimeoutSeconds: 5, IdleConnections: 4},
		CORS: config.CORSConfig{
			AllowOrigin:   "*",
			AllowMethods:  "GET,HEAD,POST,OPTIONS",
			MaxAgeSeconds: 86400,
			Allow:         "GET, HEAD, POST, OPTIONS",
		},
	}
}

func newExchangeEcho(t *testing.T) (*echo.Echo, *fakeExchange) {
	t.Helper()
	fake := &fakeExchange{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	relay, err := service.NewExchangeRelay(client.NewUpstreamClient(cfg, discard, nil), cfg, discard)
	require.NoError(t, err)
	policy := cors.NewPolicy(cfg)

	e := echo.New()
	r := ExchangeRoutes(NewExchangeHandler(relay, policy, discard), NewPreflightHandler(policy))
	RegisterRoutes(e, r, NewHealthHandler(cfg, "test", "tote-proxy"), cfg, metrics.New())
	return e, fake
}

// stubOps records dispatcher calls.
type stubOps struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (s *stubOps) record(args ...string) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.mu.Unlock()
}

func (s *stubOps) Test(context.Context) (any, error) {
	s.record("test")
	return map[string]any{"url": "https://httpbin.org/get"}, s.err
}

func (s *stubOps) GetAllStocks(context.Context) ([]model.Stock, error) {
	s.record("get_all_stocks")
	return []model.Stock{{SecuritySymbol: "AAA"}, {SecuritySymbol: "BBB"}}, s.err
}

func (s *stubOps) GetStock(_ context.Context, symbol string) ([]model.Stock, error) {
	s.record("get_stock", symbol)
	return []model.Stock{{SecuritySymbol: symbol}}, s.err
}

func (s *stubOps) GetStockByDate(_ context.Context, symbol, timestamp string) ([]model.Stock, error) {
	s.record("get_stock_by_date", symbol, timestamp)
	return []model.Stock{}, s.err
}

func (s *stubOps) Archive(context.Context) (archive.Snapshot, error) {
	s.record("archive")
	return archive.Snapshot{Count: 0, Stocks: []model.Stock{}}, s.err
}

func newWorkerEcho(t *testing.T, ops Operations) (*echo.Echo, *fakeExchange) {
	t.Helper()
	fake := &fakeExchange{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	c := client.NewUpstreamClient(cfg, discard, nil)
	policy := cors.NewPolicy(cfg)

	e := echo.New()
	r := WorkerRoutes(
		NewProxyHandler(service.NewOpenRelay(c, cfg, discard), discard),
		NewPreflightHandler(policy),
		NewDispatcher(ops, metrics.New(), discard),
	)
	RegisterRoutes(e, r, NewHealthHandler(cfg, "test", "tote-worker"), cfg, nil)
	return e, fake
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestExchangeRoutes_SuffixSelectsEndpoint(t *testing.T) {
	e, fake := newExchangeEcho(t)

	tests := []struct {
		path   string
		method string
	}{
		{"/stocks/get_all_stocks", "getSecuritiesAndIndicesForPublic"},
		{"/stocks/v1/get_top_active_stocks", "getTopActiveStocks"},
		{"/stocks/get_top_security", "getTopSecurity"},
		{"/stocks/get_advanced_security", "getAdvancedSecurity"},
		{"/stocks/get_declines_security", "getDeclinesSecurity"},
		{"/stocks/get_market_indices", "getMarketIndices"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(e, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"method":"`+tt.method+`"}`, rec.Body.String())
			assert.Contains(t, fake.last(t).URL, "method="+tt.method+"&")
		})
	}
}

func TestExchangeRoutes_UnknownSuffixFallsBackToMarketIndices(t *testing.T) {
	e, fake := newExchangeEcho(t)

	want := serve(e, httptest.NewRequest(http.MethodGet, "/stocks/get_market_indices", http.NoBody)).Body.String()

	for _, path := range []string{"/stocks", "/stocks/", "/stocks/anything", "/stocksfoo/bar", "/stocks/get_all_stocks/x"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(e, httptest.NewRequest(http.MethodGet, path, http.NoBody))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, want, rec.Body.String())
			assert.Equal(t, "/stockMarket/dailySummary.html?method=getMarketIndices&ajax=true", fake.last(t).URL)
		})
	}
}

func TestExchangeRoutes_RelaySpoofsAndGrants(t *testing.T) {
	e, fake := newExchangeEcho(t)

	req := httptest.NewRequest(http.MethodPost, "/stocks/get_top_security", strings.NewReader("a=1"))
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Referer", "https://app.example/page")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Custom", "kept")
	rec := serve(e, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(cors.HeaderAllowOrigin))
	assert.Contains(t, rec.Header().Values(cors.HeaderVary), "Origin")
	assert.Equal(t, "pse", rec.Header().Get("X-Exchange"))

	got := fake.last(t)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "a=1", got.Body)
	assert.Equal(t, "http://www.pse.com.ph/stockMarket/home.html", got.Header.Get("Origin"))
	assert.Equal(t, "http://www.pse.com.ph/stockMarket/home.html", got.Header.Get("Referer"))
	assert.Equal(t, "XMLHttpRequest", got.Header.Get("X-Requested-With"))
	assert.Equal(t, "kept", got.Header.Get("X-Custom"))
}

func TestExchangeRoutes_Idempotent(t *testing.T) {
	e, fake := newExchangeEcho(t)

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/stocks/get_advanced_security", http.NoBody)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Accept", "application/json")
		return req
	}

	serve(e, newReq())
	first := fake.last(t)
	serve(e, newReq())
	second := fake.last(t)

	assert.Equal(t, first.URL, second.URL)
	for _, h := range []string{"Origin", "Referer", "X-Requested-With", "Accept"} {
		assert.Equal(t, first.Header.Values(h), second.Header.Values(h), h)
	}
}

func TestPreflight(t *testing.T) {
	for _, build := range []struct {
		name string
		echo func(t *testing.T) *echo.Echo
		path string
	}{
		{"exchange", func(t *testing.T) *echo.Echo { e, _ := newExchangeEcho(t); return e }, "/stocks/get_all_stocks"},
		{"worker", func(t *testing.T) *echo.Echo { e, _ := newWorkerEcho(t, &stubOps{}); return e }, "/proxy"},
	} {
		t.Run(build.name+"/full", func(t *testing.T) {
			e := build.echo(t)
			req := httptest.NewRequest(http.MethodOptions, build.path, http.NoBody)
			req.Header.Set("Origin", "https://app.example")
			req.Header.Set("Access-Control-Request-Method", "POST")
			req.Header.Set("Access-Control-Request-Headers", "content-type, X-Token")
			rec := serve(e, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, rec.Body.String())
			assert.Equal(t, "content-type, X-Token", rec.Header().Get(cors.HeaderAllowHeaders))
			assert.Equal(t, "*", rec.Header().Get(cors.HeaderAllowOrigin))
			assert.Equal(t, "GET,HEAD,POST,OPTIONS", rec.Header().Get(cors.HeaderAllowMethods))
			assert.Equal(t, "86400", rec.Header().Get(cors.HeaderMaxAge))
		})

		t.Run(build.name+"/partial", func(t *testing.T) {
			e := build.echo(t)
			req := httptest.NewRequest(http.MethodOptions, build.path, http.NoBody)
			req.Header.Set("Origin", "https://app.example")
			req.Header.Set("Access-Control-Request-Method", "POST")
			rec := serve(e, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "GET, HEAD, POST, OPTIONS", rec.Header().Get(cors.HeaderAllow))
			assert.Empty(t, rec.Header().Get(cors.HeaderAllowOrigin))
			assert.Empty(t, rec.Header().Get(cors.HeaderAllowHeaders))
		})
	}
}

func TestRelayedPaths_RejectOtherMethods(t *testing.T) {
	e, fake := newExchangeEcho(t)

	rec := serve(e, httptest.NewRequest(http.MethodPut, "/stocks/get_all_stocks", http.NoBody))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD, POST, OPTIONS", rec.Header().Get(cors.HeaderAllow))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.calls)
}

func TestFallbackBanner(t *testing.T) {
	exchange, _ := newExchangeEcho(t)
	worker, _ := newWorkerEcho(t, &stubOps{})

	tests := []struct {
		name string
		e    *echo.Echo
		path string
		want string
	}{
		{"exchange unknown", exchange, "/unknown/path", "Tote Proxy"},
		{"exchange root", exchange, "/", "Tote Proxy"},
		{"worker unknown", worker, "/unknown/path", "Tote"},
		{"worker root", worker, "/", "Tote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.e, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
			assert.Equal(t, "text/plain;charset=UTF-8", rec.Header().Get(echo.HeaderContentType))
		})
	}
}

func TestWorkerProxy_RelaysToTarget(t *testing.T) {
	e, fake := newWorkerEcho(t, &stubOps{})
	srvURL := strings.TrimSuffix(testTargetBase(t, fake), "/")

	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+srvURL+"/stockMarket/home.html%3Fmethod%3Dx", http.NoBody)
	req.Header.Set("Origin", "https://caller.example")
	rec := serve(e, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://caller.example", rec.Header().Get(cors.HeaderAllowOrigin))
	assert.Contains(t, rec.Header().Values(cors.HeaderVary), "Origin")

	got := fake.last(t)
	assert.Equal(t, "/stockMarket/home.html?method=x", got.URL)
	assert.Equal(t, srvURL, got.Header.Get("Origin"))
}

func TestWorkerProxy_NoOriginUsesRequestOrigin(t *testing.T) {
	e, fake := newWorkerEcho(t, &stubOps{})
	target := testTargetBase(t, fake)

	req := httptest.NewRequest(http.MethodGet, "http://relay.example/proxy?url="+target, http.NoBody)
	rec := serve(e, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://relay.example", rec.Header().Get(cors.HeaderAllowOrigin))
}

func TestWorkerProxy_MissingURL(t *testing.T) {
	e, _ := newWorkerEcho(t, &stubOps{})

	req := httptest.NewRequest(http.MethodGet, "/proxy", http.NoBody)
	req.Header.Set("Origin", "https://caller.example")
	rec := serve(e, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "url query parameter is required")
	assert.Equal(t, "https://caller.example", rec.Header().Get(cors.HeaderAllowOrigin))
}

func TestDispatcher_GetStockPassesSymbolOnly(t *testing.T) {
	ops := &stubOps{}
	e, _ := newWorkerEcho(t, ops)

	req := httptest.NewRequest(http.MethodGet, "/get_stock?symbol=AAA&extra=1", http.NoBody)
	req.Header.Set("Origin", "https://caller.example")
	rec := serve(e, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][]string{{"get_stock", "AAA"}}, ops.calls)
	assert.JSONEq(t, `[{"totalVolume":"","indicator":"","percChangeClose":"","lastTradedPrice":"","securityAlias":"","securitySymbol":"AAA"}]`, rec.Body.String())
	assert.Equal(t, "application/json;charset=UTF-8", rec.Header().Get(echo.HeaderContentType))
	assert.Empty(t, rec.Header().Get(cors.HeaderAllowOrigin))
}

func TestDispatcher_Routing(t *testing.T) {
	tests := []struct {
		target string
		want   []string
	}{
		{"/test", []string{"test"}},
		{"/get_all_stocks", []string{"get_all_stocks"}},
		{"/get_stock_by_date?symbol=BBB&timestamp=2024-03-05", []string{"get_stock_by_date", "BBB", "2024-03-05"}},
		{"/get_stock", []string{"get_stock", ""}},
		{"/archive", []string{"archive"}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			ops := &stubOps{}
			e, _ := newWorkerEcho(t, ops)

			rec := serve(e, httptest.NewRequest(http.MethodGet, tt.target, http.NoBody))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, [][]string{tt.want}, ops.calls)
		})
	}
}

func TestDispatcher_TestUpstreamErrorIsNeutral(t *testing.T) {
	ops := &stubOps{err: fmt.Errorf("test request: %w: 503", stocks.ErrUpstreamStatus)}
	e, _ := newWorkerEcho(t, ops)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream returned an error status"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "exchange")
}

func TestRegisterRoutes_HealthAndMetrics(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Metrics = config.MetricsConfig{Enabled: true, Path: "/metrics"}
	m := metrics.New()
	m.ObserveOperation("get_stock", nil)

	e := echo.New()
	RegisterRoutes(e, router.New(Banner("fallback")), NewHealthHandler(cfg, "test", "tote-proxy"), cfg, m)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tote_dispatch_operations_total{operation="get_stock",result="ok"} 1`)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/elsewhere", http.NoBody))
	assert.Equal(t, "fallback", rec.Body.String())
}

// testTargetBase returns the base URL of the server behind fake.
func testTargetBase(t *testing.T, fake *fakeExchange) string {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}
