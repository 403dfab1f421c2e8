package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"trady/internal/core"
)

const candlesticksSchema = `
CREATE TABLE IF NOT EXISTS candlesticks (
	exchange    TEXT        NOT NULL,
	symbol      TEXT        NOT NULL,
	timeframe   TEXT        NOT NULL,
	open_time   TIMESTAMPTZ NOT NULL,
	close_time  TIMESTAMPTZ NOT NULL,
	open        NUMERIC     NOT NULL,
	high        NUMERIC     NOT NULL,
	low         NUMERIC     NOT NULL,
	close       NUMERIC     NOT NULL,
	buy_volume  NUMERIC     NOT NULL,
	sell_volume NUMERIC     NOT NULL,
	PRIMARY KEY (exchange, symbol, timeframe, open_time)
)`

const upsertCandlestick = `
INSERT INTO candlesticks (exchange, symbol, timeframe, open_time, close_time, open, high, low, close, buy_volume, sell_volume)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (exchange, symbol, timeframe, open_time) DO UPDATE SET
	close_time=EXCLUDED.close_time, open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
	close=EXCLUDED.close, buy_volume=EXCLUDED.buy_volume, sell_volume=EXCLUDED.sell_volume`

// Postgres keeps candlesticks in one table keyed by series and open time.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db), nil
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, candlesticksSchema); err != nil {
		return fmt.Errorf("create candlesticks table: %w", err)
	}
	return nil
}

// Save upserts the batch in a single transaction.
func (p *Postgres) Save(ctx context.Context, key SeriesKey, candles []core.Candlestick) error {
	if len(candles) == 0 {
		return nil
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candlestick at index %d for %s: %w", i, key, err)
		}
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := saveTx(ctx, tx, key, candles); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func saveTx(ctx context.Context, tx *sql.Tx, key SeriesKey, candles []core.Candlestick) error {
	stmt, err := tx.PrepareContext(ctx, upsertCandlestick)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()
	symbol, interval := key.Symbol.Name(), IntervalLabel(key.Interval)
	for i, c := range candles {
		_, err := stmt.ExecContext(ctx,
			key.Exchange, symbol, interval, c.OpenTime.UTC(), c.CloseTime.UTC(),
			c.Open, c.High, c.Low, c.Close, c.BuyVolume, c.SellVolume)
		if err != nil {
			return fmt.Errorf("save candlestick at index %d (%s at %s): %w", i, key, c.OpenTime.UTC().Format(time.RFC3339), err)
		}
	}
	return nil
}

func (p *Postgres) LastCloseTime(ctx context.Context, key SeriesKey) (time.Time, bool, error) {
	var last sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT max(close_time) FROM candlesticks WHERE exchange=$1 AND symbol=$2 AND timeframe=$3`,
		key.Exchange, key.Symbol.Name(), IntervalLabel(key.Interval),
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last close time %s: %w", key, err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time.UTC(), true, nil
}

// Candlesticks returns the stored series with open time in [start, end), ascending.
func (p *Postgres) Candlesticks(ctx context.Context, key SeriesKey, start, end time.Time) ([]core.Candlestick, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, buy_volume, sell_volume
		FROM candlesticks
		WHERE exchange=$1 AND symbol=$2 AND timeframe=$3 AND open_time >= $4 AND open_time < $5
		ORDER BY open_time ASC`,
		key.Exchange, key.Symbol.Name(), IntervalLabel(key.Interval), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candlesticks %s: %w", key, err)
	}
	defer rows.Close()
	var out []core.Candlestick
	for rows.Next() {
		var c core.Candlestick
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.BuyVolume, &c.SellVolume); err != nil {
			return nil, fmt.Errorf("scan candlestick %s: %w", key, err)
		}
		c.OpenTime = c.OpenTime.UTC()
		c.CloseTime = c.CloseTime.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

var _ Sink = (*Postgres)(nil)
