// Package usage provides the durable per-device daily token ledger.
// Rows are append-only; quota decisions read the per-day sum.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DailyTotalReader is the minimal interface needed by request-time admission.
type DailyTotalReader interface {
	DailyTotal(ctx context.Context, deviceID, dayKey string) (int64, error)
}

type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("usage sqlite: path is required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("usage sqlite: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("usage sqlite: create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", abs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("usage sqlite: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage sqlite: ping database: %w", err)
	}

	store := &SQLiteStore{db: db, path: abs}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("usage sqlite: not initialized")
	}

	stmts := []string{
		`
		CREATE TABLE IF NOT EXISTS usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			date TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
		`,
		`CREATE INDEX IF NOT EXISTS idx_usage_device_date ON usage (device_id, date)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("usage sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// Record appends one usage row for the current UTC day. Negative token
// counts are clamped to zero; callers are trusted internal components.
func (s *SQLiteStore) Record(ctx context.Context, deviceID, endpoint string, tokensIn, tokensOut int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("usage sqlite: not initialized")
	}
	deviceID = strings.TrimSpace(deviceID)
	endpoint = strings.TrimSpace(endpoint)
	if deviceID == "" || endpoint == "" {
		return fmt.Errorf("usage sqlite: invalid inputs")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage (device_id, date, endpoint, tokens_in, tokens_out, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, deviceID, DayKeyUTC(now), endpoint, max64(0, tokensIn), max64(0, tokensOut), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("usage sqlite: record: %w", err)
	}
	return nil
}

// DailyTotal returns the sum of tokens_in + tokens_out over all rows for
// (deviceID, dayKey), or 0 when there are none.
func (s *SQLiteStore) DailyTotal(ctx context.Context, deviceID, dayKey string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("usage sqlite: not initialized")
	}
	deviceID = strings.TrimSpace(deviceID)
	dayKey = strings.TrimSpace(dayKey)
	if deviceID == "" || dayKey == "" {
		return 0, fmt.Errorf("usage sqlite: invalid inputs")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_in + tokens_out), 0)
		FROM usage
		WHERE device_id = ? AND date = ?
	`, deviceID, dayKey)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("usage sqlite: daily total: %w", err)
	}
	return total, nil
}

// ListDay returns the individual rows for (deviceID, dayKey) in insertion
// order. Used by tests and introspection, not by admission.
func (s *SQLiteStore) ListDay(ctx context.Context, deviceID, dayKey string) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("usage sqlite: not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, date, endpoint, tokens_in, tokens_out, created_at
		FROM usage
		WHERE device_id = ? AND date = ?
		ORDER BY id ASC
	`, strings.TrimSpace(deviceID), strings.TrimSpace(dayKey))
	if err != nil {
		return nil, fmt.Errorf("usage sqlite: list day: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Date, &r.Endpoint, &r.TokensIn, &r.TokensOut, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("usage sqlite: scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage sqlite: list day rows: %w", err)
	}
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
