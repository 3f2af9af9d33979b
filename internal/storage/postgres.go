package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rewired-gh/econwatch/internal/models"
)

// postgresSchema is applied on open. Safe to run multiple times.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	type TEXT NOT NULL,
	description TEXT,
	value TEXT,
	year TEXT,
	period TEXT,
	timestamp TEXT,
	source TEXT,
	series_id TEXT,
	previous_value TEXT,
	expected_value TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS events_identity ON events (series_id, year, period, value);
CREATE INDEX IF NOT EXISTS events_timestamp ON events (timestamp);
`

// Postgres is the PostgreSQL event store
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a connection pool, fails fast if the database is
// unreachable, and ensures the schema exists.
func NewPostgres(ctx context.Context, dbURL string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Exists reports whether the identity tuple is already recorded
func (p *Postgres) Exists(ctx context.Context, key models.IdentityKey) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx, `
		SELECT 1 FROM events
		WHERE series_id = $1 AND year = $2 AND period = $3 AND value = $4
		LIMIT 1`,
		key.SeriesID, key.Year, key.Period, key.Value,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", key, err)
	}
	return true, nil
}

// Append inserts events in a single transaction.
// RETURNING yields a row only when inserted; conflicts return no rows.
func (p *Postgres) Append(ctx context.Context, events []models.Event) ([]models.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := make([]models.Event, 0, len(events))
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid event %s: %w", e.Key(), err)
		}
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO events (type, description, value, year, period, timestamp, source, series_id, previous_value, expected_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT DO NOTHING
			RETURNING id`,
			e.Type, e.Description, e.Value, e.Year, e.Period, e.Timestamp,
			e.Source, e.SeriesID, e.PreviousValue, e.ExpectedValue,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert event %s: %w", e.Key(), err)
		}
		e.ID = id
		inserted = append(inserted, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit events: %w", err)
	}
	return inserted, nil
}

// Latest returns the most recently built event
func (p *Postgres) Latest(ctx context.Context) (*models.Event, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM events
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest event: %w", err)
	}
	return e, nil
}

// Count returns the number of stored events
func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Ping is used by the readiness endpoint
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
