// Package stocks implements the operations behind the worker's dispatcher:
// reading the exchange's stock list, filtering it by symbol, and archiving
// daily snapshots.
package stocks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tote-relay/internal/archive"
	"tote-relay/internal/client"
	"tote-relay/internal/config"
	"tote-relay/internal/model"
	"tote-relay/internal/service"
)

// maxBodyBytes bounds how much of an upstream JSON body is read.
const maxBodyBytes = 32 << 20

var (
	// ErrUpstreamStatus is returned when an upstream answers with a non-2xx status.
	ErrUpstreamStatus = errors.New("upstream returned a non-success status")
	// ErrMalformedBody is returned when an upstream body is not the expected JSON.
	ErrMalformedBody = errors.New("upstream returned malformed JSON")
)

// Service reads stocks from the exchange and keeps snapshots in an archive.Store.
type Service struct {
	exchange *service.ExchangeRelay
	client   *client.UpstreamClient
	store    archive.Store
	testURL  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(exchange *service.ExchangeRelay, c *client.UpstreamClient, store archive.Store, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		exchange: exchange,
		client:   c,
		store:    store,
		testURL:  cfg.Stocks.TestURL,
		logger:   logger.With("component", "stocks"),
		now:      time.Now,
	}
}

// Test fetches the configured test URL and returns its decoded JSON as-is.
func (s *Service) Test(ctx context.Context) (any, error) {
	resp, err := s.client.DoStream(ctx, http.MethodGet, s.testURL, http.Header{"Accept": {"application/json"}}, nil)
	if err != nil {
		return nil, fmt.Errorf("test request: %w", err)
	}

	var v any
	if err := decodeJSON(resp, &v); err != nil {
		return nil, fmt.Errorf("test request: %w", err)
	}
	return v, nil
}

// GetAllStocks returns every security the exchange currently lists.
func (s *Service) GetAllStocks(ctx context.Context) ([]model.Stock, error) {
	pr := &model.ProxyRequest{
		Ctx:    ctx,
		Method: http.MethodGet,
		Path:   service.AllStocks.Suffix,
		Header: http.Header{"Accept": {"application/json"}},
		Body:   http.NoBody,
	}
	resp, err := s.exchange.Forward(pr, service.AllStocks)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, fmt.Errorf("get all stocks: %w", err)
	}
	stocks, err := parseStocks(raw)
	if err != nil {
		return nil, fmt.Errorf("get all stocks: %w", err)
	}

	s.logger.Debug("fetched stocks", "count", len(stocks))
	return stocks, nil
}

// GetStock returns the listed securities whose symbol equals symbol, ignoring case.
func (s *Service) GetStock(ctx context.Context, symbol string) ([]model.Stock, error) {
	all, err := s.GetAllStocks(ctx)
	if err != nil {
		return nil, err
	}
	return filterSymbol(all, symbol), nil
}

// GetStockByDate returns the archived records of symbol for the trading day
// that contains timestamp.
func (s *Service) GetStockByDate(ctx context.Context, symbol, timestamp string) ([]model.Stock, error) {
	at, err := ParseTimestamp(timestamp)
	if err != nil {
		return nil, err
	}
	return s.store.Find(ctx, symbol, archive.TradingDay(at))
}

// Archive fetches the current stock list and saves it as a snapshot.
func (s *Service) Archive(ctx context.Context) (archive.Snapshot, error) {
	stocks, err := s.GetAllStocks(ctx)
	if err != nil {
		return archive.Snapshot{}, err
	}

	snap := archive.Snapshot{
		TakenAt: s.now().UTC(),
		Count:   len(stocks),
		Stocks:  stocks,
	}
	if err := s.store.Save(ctx, snap); err != nil {
		return archive.Snapshot{}, fmt.Errorf("archive snapshot: %w", err)
	}

	s.logger.Info("archived stocks",
		"count", snap.Count,
		"trading_day", archive.TradingDay(snap.TakenAt).Format(time.DateOnly),
	)
	return snap, nil
}

func filterSymbol(all []model.Stock, symbol string) []model.Stock {
	out := []model.Stock{}
	for _, st := range all {
		if strings.EqualFold(st.SecuritySymbol, symbol) {
			out = append(out, st)
		}
	}
	return out
}

// parseStocks accepts either a bare JSON array of stocks or an object
// wrapping the array in "records".
func parseStocks(raw json.RawMessage) ([]model.Stock, error) {
	var stocks []model.Stock

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Records []model.Stock `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		stocks = wrapped.Records
	} else if err := json.Unmarshal(trimmed, &stocks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	if stocks == nil {
		stocks = []model.Stock{}
	}
	return stocks, nil
}

// decodeJSON closes resp.Body after decoding it into v.
func decodeJSON(resp *model.ProxyResponse, v any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}
