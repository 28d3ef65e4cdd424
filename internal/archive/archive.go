// Package archive keeps daily snapshots of the exchange's stock list.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tote-relay/internal/config"
	"tote-relay/internal/model"
)

// ExchangeZone is the exchange's local time (Philippine Standard Time, UTC+8).
var ExchangeZone = time.FixedZone("PHT", 8*60*60)

// Snapshot is the stock list as fetched at one instant.
type Snapshot struct {
	TakenAt time.Time     `json:"timestamp"`
	Count   int           `json:"count"`
	Stocks  []model.Stock `json:"stocks"`
}

// Store persists snapshots. For each trading day and symbol only the most
// recently saved record is kept. Symbols compare case-insensitively.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Find(ctx context.Context, symbol string, day time.Time) ([]model.Stock, error)
	Close()
}

// TradingDay returns the exchange-local calendar date of t as midnight UTC.
func TradingDay(t time.Time) time.Time {
	y, m, d := t.In(ExchangeZone).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Open returns the store selected by cfg.Archive.Driver.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Archive.Driver {
	case config.ArchiveMemory, "":
		logger.Info("using in-memory stock archive")
		return NewMemory(), nil
	case config.ArchivePostgres:
		return OpenPostgres(ctx, cfg.Archive.DSN, logger)
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", cfg.Archive.Driver)
	}
}
