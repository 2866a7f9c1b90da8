// Package registry provides the durable device registry backing bearer
// authentication. Devices are self-asserted opaque identifiers; the registry
// only answers membership questions and keeps bookkeeping timestamps.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry stores known devices keyed by device_id.
// The primary key on device_id is the correctness mechanism for concurrent
// first-time registration; no application-level locking is used.
type SQLiteRegistry struct {
	db   *sql.DB
	path string
}

func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("device registry: path is required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("device registry: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("device registry: create directory: %w", err)
	}

	// Use file: DSN to allow pragma parameters.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", abs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("device registry: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("device registry: ping database: %w", err)
	}

	reg := &SQLiteRegistry{db: db, path: abs}
	if err := reg.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return reg, nil
}

func (r *SQLiteRegistry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRegistry) ensureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("device registry: not initialized")
	}
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS devices (
			device_id TEXT NOT NULL PRIMARY KEY,
			created_at TEXT NOT NULL,
			last_seen TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("device registry: create table: %w", err)
	}
	return nil
}

// Register inserts the device if absent. It reports created=true for a
// first-time registration and created=false when the id already exists;
// re-registering is a no-op success either way.
func (r *SQLiteRegistry) Register(ctx context.Context, deviceID string) (created bool, err error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("device registry: not initialized")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false, fmt.Errorf("device registry: device_id is required")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, created_at, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO NOTHING
	`, deviceID, now, now)
	if err != nil {
		return false, fmt.Errorf("device registry: register: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Touch updates last_seen for an existing device. Touching an unknown device
// is a silent no-op; callers gate on Exists first.
func (r *SQLiteRegistry) Touch(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("device registry: not initialized")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("device registry: device_id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := r.db.ExecContext(ctx, `UPDATE devices SET last_seen = ? WHERE device_id = ?`, now, deviceID); err != nil {
		return fmt.Errorf("device registry: touch: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Exists(ctx context.Context, deviceID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("device registry: not initialized")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE device_id = ?`, deviceID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("device registry: exists: %w", err)
	}
	return true, nil
}

// Device is a registry row as stored.
type Device struct {
	DeviceID  string `json:"device_id"`
	CreatedAt string `json:"created_at"`
	LastSeen  string `json:"last_seen"`
}

// Get returns the stored row for a device, or ok=false when unknown.
func (r *SQLiteRegistry) Get(ctx context.Context, deviceID string) (Device, bool, error) {
	if r == nil || r.db == nil {
		return Device{}, false, fmt.Errorf("device registry: not initialized")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Device{}, false, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT device_id, created_at, last_seen FROM devices WHERE device_id = ?`, deviceID)
	var d Device
	if err := row.Scan(&d.DeviceID, &d.CreatedAt, &d.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, false, nil
		}
		return Device{}, false, fmt.Errorf("device registry: get: %w", err)
	}
	return d, true, nil
}
