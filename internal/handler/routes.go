package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tote-relay/internal/config"
	"tote-relay/internal/metrics"
	"tote-relay/internal/router"
	"tote-relay/internal/service"
)

// Fallback bodies for requests no rule matches.
const (
	ExchangeBanner = "Tote Proxy"
	WorkerBanner   = "Tote"
)

// ExchangeRoutes builds the rules of tote-proxy. Under /stocks, OPTIONS is a
// preflight, GET/HEAD/POST go to the endpoint named by the path suffix (market
// indices when none matches), and other methods get 405.
func ExchangeRoutes(x *ExchangeHandler, p *PreflightHandler) *router.Router {
	stocks := router.PathPrefix("/stocks")

	r := router.New(Banner(ExchangeBanner))
	r.Add("preflight", router.All(stocks, router.Methods(http.MethodOptions)), p.Handle)
	for _, ep := range service.ExchangeEndpoints {
		r.Add(ep.Name, router.All(stocks, router.Relayable(), router.PathSuffix(ep.Suffix)), x.Endpoint(ep))
	}
	r.Add(service.MarketIndices.Name, router.All(stocks, router.Relayable()), x.Endpoint(service.MarketIndices))
	r.Add("method_not_allowed", stocks, p.MethodNotAllowed)
	return r
}

// WorkerRoutes builds the rules of tote-worker: the /proxy relay followed by
// the stock operations. /get_stock_by_date precedes /get_stock because the
// latter is a prefix of the former.
func WorkerRoutes(p *ProxyHandler, pre *PreflightHandler, d *Dispatcher) *router.Router {
	proxy := router.PathPrefix("/proxy")

	r := router.New(Banner(WorkerBanner))
	r.Add("preflight", router.All(proxy, router.Methods(http.MethodOptions)), pre.Handle)
	r.Add("proxy", router.All(proxy, router.Relayable()), p.Handle)
	r.Add("method_not_allowed", proxy, pre.MethodNotAllowed)
	r.Add("test", router.PathPrefix("/test"), d.Test)
	r.Add("get_all_stocks", router.PathPrefix("/get_all_stocks"), d.GetAllStocks)
	r.Add("get_stock_by_date", router.PathPrefix("/get_stock_by_date"), d.GetStockByDate)
	r.Add("get_stock", router.PathPrefix("/get_stock"), d.GetStock)
	r.Add("archive", router.PathPrefix("/archive"), d.Archive)
	return r
}

// RegisterRoutes wires health, metrics and the relay router onto the Echo
// instance. Everything not claimed by a static route goes through r.
func RegisterRoutes(e *echo.Echo, r *router.Router, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/statusz", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/", r.Handle)
	e.Any("/*", r.Handle)
}
