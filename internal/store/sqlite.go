package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/angel-console/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	tokenMu sync.Mutex // serialises token writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. Pragmas go in the
	// DSN so every pooled connection gets them.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen_at);

	CREATE TABLE IF NOT EXISTS token_pairs (
		device_id TEXT PRIMARY KEY REFERENCES devices(device_id) ON DELETE CASCADE,
		sb_access_token TEXT NOT NULL,
		sb_refresh_token TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDevice retrieves a device by its ID.
func (s *SQLiteStore) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	query := `
		SELECT device_id, label, last_seen_at, created_at, updated_at
		FROM devices WHERE device_id = ?`

	row := s.db.QueryRowContext(ctx, query, deviceID)

	var device domain.Device
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&device.DeviceID, &device.Label, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan device row: %w", err)
	}

	device.LastSeenAt = time.Unix(lastSeen, 0)
	device.CreatedAt = time.Unix(createdAt, 0)
	device.UpdatedAt = time.Unix(updatedAt, 0)

	return &device, nil
}

// UpsertDevice creates or updates a device record.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, device *domain.Device) error {
	query := `
	INSERT INTO devices (device_id, label, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		label = excluded.label,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		device.DeviceID, device.Label, device.LastSeenAt.Unix(),
		device.CreatedAt.Unix(), device.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a device.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error {
	query := `UPDATE devices SET last_seen_at = ?, updated_at = ? WHERE device_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), deviceID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "device_id", deviceID)
	}

	return nil
}

// GetTokens returns the stored session for a device.
func (s *SQLiteStore) GetTokens(ctx context.Context, deviceID string) (domain.TokenPair, error) {
	query := `SELECT sb_access_token, sb_refresh_token FROM token_pairs WHERE device_id = ?`

	var pair domain.TokenPair
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(&pair.AccessToken, &pair.RefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TokenPair{}, nil
	}
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("scan token pair: %w", err)
	}
	return pair, nil
}

// SaveTokens stores both tokens in a single row write.
func (s *SQLiteStore) SaveTokens(ctx context.Context, deviceID string, pair domain.TokenPair) error {
	if !pair.Valid() {
		return ErrPartialSession
	}

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	query := `
		INSERT INTO token_pairs (device_id, sb_access_token, sb_refresh_token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			sb_access_token = excluded.sb_access_token,
			sb_refresh_token = excluded.sb_refresh_token,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, deviceID, pair.AccessToken, pair.RefreshToken, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save token pair: %w", err)
	}
	return nil
}

// ClearTokens removes the stored session for a device.
func (s *SQLiteStore) ClearTokens(ctx context.Context, deviceID string) error {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM token_pairs WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("clear token pair: %w", err)
	}
	return nil
}

// DeleteStaleDevices removes devices unseen for ttl. Sessions go with them.
func (s *SQLiteStore) DeleteStaleDevices(ctx context.Context, ttl time.Duration) (int64, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM token_pairs WHERE device_id IN (
			SELECT device_id FROM devices WHERE last_seen_at < ?
		)`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete stale devices: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
