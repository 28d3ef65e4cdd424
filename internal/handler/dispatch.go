package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"tote-relay/internal/archive"
	"tote-relay/internal/metrics"
	"tote-relay/internal/model"
)

const jsonContentType = "application/json;charset=UTF-8"

// Operations is the stock module behind the dispatcher.
type Operations interface {
	Test(ctx context.Context) (any, error)
	GetAllStocks(ctx context.Context) ([]model.Stock, error)
	GetStock(ctx context.Context, symbol string) ([]model.Stock, error)
	GetStockByDate(ctx context.Context, symbol, timestamp string) ([]model.Stock, error)
	Archive(ctx context.Context) (archive.Snapshot, error)
}

// Dispatcher maps worker paths onto Operations and writes their results as
// JSON. Its responses carry no CORS headers.
type Dispatcher struct {
	ops     Operations
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(ops Operations, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		ops:     ops,
		metrics: m,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Test runs the connectivity check operation.
func (d *Dispatcher) Test(c echo.Context) error {
	return d.run(c, "test", func(ctx context.Context) (any, error) {
		return d.ops.Test(ctx)
	})
}

// GetAllStocks returns every listed security.
func (d *Dispatcher) GetAllStocks(c echo.Context) error {
	return d.run(c, "get_all_stocks", func(ctx context.Context) (any, error) {
		return d.ops.GetAllStocks(ctx)
	})
}

// GetStock reads the symbol query parameter. A missing symbol is "".
func (d *Dispatcher) GetStock(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	return d.run(c, "get_stock", func(ctx context.Context) (any, error) {
		return d.ops.GetStock(ctx, symbol)
	})
}

// GetStockByDate reads the symbol and timestamp query parameters.
func (d *Dispatcher) GetStockByDate(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	timestamp := c.QueryParam("timestamp")
	return d.run(c, "get_stock_by_date", func(ctx context.Context) (any, error) {
		return d.ops.GetStockByDate(ctx, symbol, timestamp)
	})
}

// Archive saves a snapshot of the current stock list and returns it.
func (d *Dispatcher) Archive(c echo.Context) error {
	return d.run(c, "archive", func(ctx context.Context) (any, error) {
		return d.ops.Archive(ctx)
	})
}

func (d *Dispatcher) run(c echo.Context, op string, call func(context.Context) (any, error)) error {
	result, err := call(c.Request().Context())
	d.metrics.ObserveOperation(op, err)
	if err != nil {
		return mapError(c, d.logger, err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return mapError(c, d.logger, err)
	}
	return c.Blob(http.StatusOK, jsonContentType, body)
}
