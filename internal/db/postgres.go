// Package db
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/amirphl/dexbook/internal/msgs"
)

// Store archives closed candles and matched trades in Postgres. It is an
// optional sink: the live view never reads from it, and a missing store
// never affects book correctness.
type Store struct {
	db *sql.DB
}

// New opens a connection pool and ensures the schema exists.
func New(connStr string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// GetDB exposes the underlying pool for health checks.
func (s *Store) GetDB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS candles (
		market_id    TEXT   NOT NULL,
		dur          TEXT   NOT NULL,
		start_stamp  BIGINT NOT NULL,
		end_stamp    BIGINT NOT NULL,
		start_rate   BIGINT NOT NULL,
		end_rate     BIGINT NOT NULL,
		high_rate    BIGINT NOT NULL,
		low_rate     BIGINT NOT NULL,
		match_volume BIGINT NOT NULL,
		quote_volume BIGINT NOT NULL,
		PRIMARY KEY (market_id, dur, start_stamp)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create candles table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS matches (
		id        BIGSERIAL PRIMARY KEY,
		market_id TEXT    NOT NULL,
		rate      BIGINT  NOT NULL,
		qty       BIGINT  NOT NULL,
		stamp     BIGINT  NOT NULL,
		sell      BOOLEAN NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create matches table: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS matches_market_stamp_idx ON matches (market_id, stamp)`)
	if err != nil {
		return fmt.Errorf("failed to create matches index: %w", err)
	}
	return nil
}

// executeWithTransaction runs fn inside a transaction with rollback on
// error.
func (s *Store) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// SaveCandle upserts one closed candle bucket. Replayed deliveries of the
// same bucket overwrite rather than duplicate.
func (s *Store) SaveCandle(ctx context.Context, marketID, dur string, c msgs.Candle) error {
	return s.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO candles (market_id, dur, start_stamp, end_stamp, start_rate, end_rate, high_rate, low_rate, match_volume, quote_volume)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (market_id, dur, start_stamp) DO UPDATE SET
			end_stamp=EXCLUDED.end_stamp, start_rate=EXCLUDED.start_rate,
			end_rate=EXCLUDED.end_rate, high_rate=EXCLUDED.high_rate,
			low_rate=EXCLUDED.low_rate, match_volume=EXCLUDED.match_volume,
			quote_volume=EXCLUDED.quote_volume`,
			marketID, dur, int64(c.StartStamp), int64(c.EndStamp), int64(c.StartRate),
			int64(c.EndRate), int64(c.HighRate), int64(c.LowRate),
			int64(c.MatchVolume), int64(c.QuoteVolume))
		if err != nil {
			return fmt.Errorf("failed to save candle for %s %s at %d: %w", marketID, dur, c.StartStamp, err)
		}
		return nil
	})
}

// SaveMatches appends a batch of matched trades.
func (s *Store) SaveMatches(ctx context.Context, marketID string, matches []msgs.Match) error {
	if len(matches) == 0 {
		return nil
	}
	return s.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO matches (market_id, rate, qty, stamp, sell) VALUES ($1,$2,$3,$4,$5)`)
		if err != nil {
			return fmt.Errorf("failed to prepare match insert: %w", err)
		}
		defer stmt.Close()
		for _, m := range matches {
			if _, err := stmt.ExecContext(ctx, marketID, int64(m.Rate), int64(m.Qty), int64(m.Stamp), m.Sell); err != nil {
				return fmt.Errorf("failed to save match for %s at %d: %w", marketID, m.Stamp, err)
			}
		}
		return nil
	})
}

// GetCandles returns archived candles for a market and duration within a
// stamp range, oldest first.
func (s *Store) GetCandles(ctx context.Context, marketID, dur string, startStamp, endStamp uint64) ([]msgs.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT start_stamp, end_stamp, start_rate, end_rate, high_rate, low_rate, match_volume, quote_volume
	FROM candles WHERE market_id=$1 AND dur=$2 AND start_stamp >= $3 AND start_stamp <= $4
	ORDER BY start_stamp`, marketID, dur, int64(startStamp), int64(endStamp))
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()
	var out []msgs.Candle
	for rows.Next() {
		var c msgs.Candle
		var start, end, sr, er, hr, lr, mv, qv int64
		if err := rows.Scan(&start, &end, &sr, &er, &hr, &lr, &mv, &qv); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.StartStamp, c.EndStamp = uint64(start), uint64(end)
		c.StartRate, c.EndRate = uint64(sr), uint64(er)
		c.HighRate, c.LowRate = uint64(hr), uint64(lr)
		c.MatchVolume, c.QuoteVolume = uint64(mv), uint64(qv)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetMatches returns archived matches for a market within a stamp range,
// newest first.
func (s *Store) GetMatches(ctx context.Context, marketID string, startStamp, endStamp uint64) ([]msgs.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT rate, qty, stamp, sell FROM matches
	WHERE market_id=$1 AND stamp >= $2 AND stamp <= $3
	ORDER BY stamp DESC`, marketID, int64(startStamp), int64(endStamp))
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()
	var out []msgs.Match
	for rows.Next() {
		var m msgs.Match
		var rate, qty, stamp int64
		if err := rows.Scan(&rate, &qty, &stamp, &m.Sell); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.Rate, m.Qty, m.Stamp = uint64(rate), uint64(qty), uint64(stamp)
		out = append(out, m)
	}
	return out, rows.Err()
}
