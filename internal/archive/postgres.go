package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tote-relay/internal/model"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS stock_snapshots (
	trading_date      DATE        NOT NULL,
	symbol_key        TEXT        NOT NULL,
	taken_at          TIMESTAMPTZ NOT NULL,
	security_symbol   TEXT        NOT NULL,
	security_alias    TEXT        NOT NULL,
	last_traded_price TEXT        NOT NULL,
	perc_change_close TEXT        NOT NULL,
	total_volume      TEXT        NOT NULL,
	indicator         TEXT        NOT NULL,
	PRIMARY KEY (trading_date, symbol_key)
)`

const upsertSQL = `
INSERT INTO stock_snapshots (
	trading_date, symbol_key, taken_at, security_symbol, security_alias,
	last_traded_price, perc_change_close, total_volume, indicator
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (trading_date, symbol_key) DO UPDATE SET
	taken_at          = EXCLUDED.taken_at,
	security_symbol   = EXCLUDED.security_symbol,
	security_alias    = EXCLUDED.security_alias,
	last_traded_price = EXCLUDED.last_traded_price,
	perc_change_close = EXCLUDED.perc_change_close,
	total_volume      = EXCLUDED.total_volume,
	indicator         = EXCLUDED.indicator
WHERE stock_snapshots.taken_at <= EXCLUDED.taken_at`

const findSQL = `
SELECT security_symbol, security_alias, last_traded_price, perc_change_close, total_volume, indicator
FROM stock_snapshots
WHERE trading_date = $1 AND symbol_key = $2`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects to dsn, retrying with backoff, and creates the
// snapshot table if it does not exist.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	logger = logger.With("component", "archive_postgres")

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}

	b := backoff{maxRetries: 5, delay: 500 * time.Millisecond, maxDelay: 5 * time.Second}
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= b.maxRetries {
			pool.Close()
			return nil, fmt.Errorf("archive: ping postgres after %d retries: %w", attempt, err)
		}
		logger.Warn("postgres not ready, retrying", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("archive: open postgres canceled: %w", ctx.Err())
		case <-time.After(b.nextDelay(attempt)):
		}
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: create table: %w", err)
	}

	logger.Info("postgres stock archive ready")
	return &Postgres{pool: pool, logger: logger}, nil
}

// Save upserts every record of snap in one transaction.
func (p *Postgres) Save(ctx context.Context, snap Snapshot) error {
	day := TradingDay(snap.TakenAt)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Error("rollback failed", "err", rbErr)
		}
	}()

	batch := &pgx.Batch{}
	for _, s := range snap.Stocks {
		batch.Queue(upsertSQL,
			day, strings.ToUpper(s.SecuritySymbol), snap.TakenAt,
			s.SecuritySymbol, s.SecurityAlias, s.LastTradedPrice,
			s.PercChangeClose, s.TotalVolume, s.Indicator,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("archive: upsert %d records: %w", batch.Len(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Find returns the archived record for symbol on the given trading day.
func (p *Postgres) Find(ctx context.Context, symbol string, day time.Time) ([]model.Stock, error) {
	rows, err := p.pool.Query(ctx, findSQL, day, strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}

	stocks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Stock, error) {
		var s model.Stock
		err := row.Scan(&s.SecuritySymbol, &s.SecurityAlias, &s.LastTradedPrice,
			&s.PercChangeClose, &s.TotalVolume, &s.Indicator)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan: %w", err)
	}
	if stocks == nil {
		stocks = []model.Stock{}
	}
	return stocks, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

type backoff struct {
	maxRetries int
	delay      time.Duration
	maxDelay   time.Duration
}

func (b backoff) nextDelay(attempt int) time.Duration {
	d := b.delay << attempt
	if d > b.maxDelay {
		return b.maxDelay
	}
	return d
}
