// Package storage provides the durable event store.
//
// Events are appended to a single table and never updated or deleted. The
// identity tuple (series_id, year, period, value) carries a unique index, so a
// duplicate insert is reported as a skipped row instead of a second record.
//
// Two backends share the EventStore contract: SQLite (default, via the pure-Go
// modernc.org/sqlite driver) and PostgreSQL (via pgx).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rewired-gh/econwatch/internal/logger"
	"github.com/rewired-gh/econwatch/internal/models"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Latest when the store holds no events.
var ErrNotFound = errors.New("no events recorded")

// EventStore defines the operations the pipeline and status API need
type EventStore interface {
	// Exists reports whether an event with exactly this identity tuple was recorded
	Exists(ctx context.Context, key models.IdentityKey) (bool, error)

	// Append inserts events in one transaction and returns those actually inserted.
	// Events whose identity is already stored are skipped, not duplicated.
	Append(ctx context.Context, events []models.Event) ([]models.Event, error)

	// Latest returns the event with the greatest timestamp; ties go to the last inserted row
	Latest(ctx context.Context) (*models.Event, error)

	// Count returns the number of stored events
	Count(ctx context.Context) (int64, error)

	// Ping checks that the database is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying connections
	Close() error
}

const sqliteTable = `CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
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
)`

// Tables written without the identity index may hold duplicate identities.
// The first recorded row of each identity is kept.
const dedupLegacyRows = `DELETE FROM events WHERE id NOT IN (
	SELECT MIN(id) FROM events GROUP BY series_id, year, period, value
)`

var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS events_identity ON events (series_id, year, period, value)`,
	`CREATE INDEX IF NOT EXISTS events_timestamp ON events (timestamp)`,
}

const eventColumns = `id, type, description, value, year, period, timestamp, source, series_id, previous_value, expected_value`

// Storage is the SQLite event store
type Storage struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath and initializes
// the schema. Initialization is idempotent. ":memory:" gives a private
// in-memory database.
func New(dbPath string) (*Storage, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer, and :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteTable); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var indexed int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'events_identity'`,
	).Scan(&indexed); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if indexed == 0 {
		res, err := s.db.ExecContext(ctx, dedupLegacyRows)
		if err != nil {
			return fmt.Errorf("failed to remove duplicate events: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			logger.Warn("Removed %d duplicate event rows before adding the identity index", n)
		}
	}

	for _, stmt := range sqliteIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Exists reports whether the identity tuple is already recorded.
// Values are compared as stored text, so "3.90" and "3.9" differ.
func (s *Storage) Exists(ctx context.Context, key models.IdentityKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM events
		WHERE series_id = ? AND year = ? AND period = ? AND value = ?
		LIMIT 1`,
		key.SeriesID, key.Year, key.Period, key.Value,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", key, err)
	}
	return true, nil
}

// Append inserts events in a single transaction
func (s *Storage) Append(ctx context.Context, events []models.Event) ([]models.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (type, description, value, year, period, timestamp, source, series_id, previous_value, expected_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := make([]models.Event, 0, len(events))
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid event %s: %w", e.Key(), err)
		}
		res, err := stmt.ExecContext(ctx,
			e.Type, e.Description, e.Value, e.Year, e.Period, e.Timestamp,
			e.Source, e.SeriesID, e.PreviousValue, e.ExpectedValue,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert event %s: %w", e.Key(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read insert result: %w", err)
		}
		if n == 0 {
			// Identity already stored
			continue
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
		inserted = append(inserted, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit events: %w", err)
	}
	return inserted, nil
}

// Latest returns the most recently built event
func (s *Storage) Latest(ctx context.Context) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest event: %w", err)
	}
	return e, nil
}

// Count returns the number of stored events
func (s *Storage) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent reads one row in eventColumns order. Legacy rows may hold NULLs.
func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e    models.Event
		cols [10]sql.NullString
	)
	if err := row.Scan(&e.ID, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4],
		&cols[5], &cols[6], &cols[7], &cols[8], &cols[9]); err != nil {
		return nil, err
	}
	e.Type = cols[0].String
	e.Description = cols[1].String
	e.Value = cols[2].String
	e.Year = cols[3].String
	e.Period = cols[4].String
	e.Timestamp = cols[5].String
	e.Source = cols[6].String
	e.SeriesID = cols[7].String
	e.PreviousValue = orNotAvailable(cols[8])
	e.ExpectedValue = orNotAvailable(cols[9])
	return &e, nil
}

func orNotAvailable(s sql.NullString) string {
	if !s.Valid || s.String == "" {
		return models.NotAvailable
	}
	return s.String
}
