package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/FLClab/TiffWrapper/internal/model"

	_ "modernc.org/sqlite"
)

const createCallsTable = `
CREATE TABLE IF NOT EXISTS calls (
    id           TEXT PRIMARY KEY,
    op           TEXT NOT NULL,
    path         TEXT NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    series_count INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    created_at   DATETIME NOT NULL
)`

const createCallsIndex = `CREATE INDEX IF NOT EXISTS calls_created_at ON calls (created_at)`

// ErrNotFound is returned when a call is not in the journal.
var ErrNotFound = errors.New("call not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createCallsTable, createCallsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate calls table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordCall inserts one journal entry.
func (s *SQLiteStore) RecordCall(ctx context.Context, rec *model.CallRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (
			id, op, path, status, error, series_count, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Op, rec.Path, rec.Status, rec.Error,
		rec.SeriesCount, rec.DurationMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// GetCall retrieves a journal entry by call ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*model.CallRecord, error) {
	rec := &model.CallRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, op, path, status, error, series_count, duration_ms, created_at
		FROM calls WHERE id = ?`, id,
	).Scan(
		&rec.ID, &rec.Op, &rec.Path, &rec.Status, &rec.Error,
		&rec.SeriesCount, &rec.DurationMS, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return rec, nil
}

// ListCalls returns a page of journal entries, newest first, along with the
// total number of entries.
func (s *SQLiteStore) ListCalls(ctx context.Context, limit, offset int) ([]*model.CallRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count calls: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, op, path, status, error, series_count, duration_ms, created_at
		FROM calls ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var calls []*model.CallRecord
	for rows.Next() {
		rec := &model.CallRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.Op, &rec.Path, &rec.Status, &rec.Error,
			&rec.SeriesCount, &rec.DurationMS, &rec.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate calls: %w", err)
	}

	return calls, total, nil
}

// GetCallStats aggregates the journal by status and operation.
func (s *SQLiteStore) GetCallStats(ctx context.Context) (*CallStats, error) {
	stats := &CallStats{
		CountByStatus: make(map[string]int),
		CountByOp:     make(map[string]int),
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM calls",
	).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("count calls: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "op", stats.CountByOp); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills into with row counts grouped by column, which must be a
// trusted column name.
func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM calls GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("count calls by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}
