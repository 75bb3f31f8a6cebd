// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/angel-console/internal/domain"
)

// Repository defines the interface for persisting devices and their sessions.
type Repository interface {
	// GetDevice retrieves a device by its ID. Returns nil if not found.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// UpsertDevice creates or updates a device record.
	UpsertDevice(ctx context.Context, device *domain.Device) error

	// UpdateLastSeen updates the last_seen_at timestamp for a device.
	UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error

	// GetTokens returns the stored session for a device. A device without a
	// session yields an empty pair and no error.
	GetTokens(ctx context.Context, deviceID string) (domain.TokenPair, error)

	// SaveTokens stores both tokens in a single write.
	SaveTokens(ctx context.Context, deviceID string, pair domain.TokenPair) error

	// ClearTokens removes the stored session for a device.
	ClearTokens(ctx context.Context, deviceID string) error

	// DeleteStaleDevices removes devices (and their sessions) unseen for ttl.
	DeleteStaleDevices(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
