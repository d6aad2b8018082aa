// Package postgres persists station records as JSONB rows, for deployments
// that want the series next to their other relational data.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS station_records (
    station_id TEXT PRIMARY KEY,
    record     JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const loadSQL = `SELECT record FROM station_records WHERE station_id = $1`

const saveSQL = `
INSERT INTO station_records (station_id, record, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (station_id) DO UPDATE
SET record = EXCLUDED.record,
    updated_at = NOW()`

// Store reads and writes station records through a pgx pool.
// It implements pipeline.SeriesStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to the database and ensures the record table exists.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load fetches and decodes the station's record. A missing row means no
// record exists yet and is not an error.
func (s *Store) Load(ctx context.Context, stationID string) (domain.Series, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, loadSQL, stationID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Series{}, false, nil
	}
	if err != nil {
		return domain.Series{}, false, fmt.Errorf("load station %s: %w", stationID, err)
	}

	series, skipped, err := domain.DecodeRecord(data)
	if err != nil {
		return domain.Series{}, false, fmt.Errorf("load station %s: %w", stationID, err)
	}
	if skipped > 0 {
		s.logger.Warn("dropped unparsable rows from stored record", "station", stationID, "skipped", skipped)
	}
	return series, true, nil
}

// Save encodes the series and upserts the station's row.
func (s *Store) Save(ctx context.Context, series domain.Series, report domain.Report) error {
	data, err := domain.EncodeRecord(series, report)
	if err != nil {
		return fmt.Errorf("save station %s: %w", series.StationID, err)
	}
	if _, err := s.pool.Exec(ctx, saveSQL, series.StationID, data); err != nil {
		return fmt.Errorf("save station %s: %w", series.StationID, err)
	}
	return nil
}
