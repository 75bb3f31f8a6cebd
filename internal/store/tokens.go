package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/angel-console/internal/domain"
	"github.com/ashureev/angel-console/internal/shared"
)

// ErrPartialSession is returned when a caller tries to persist half a session.
var ErrPartialSession = errors.New("token pair must contain both access and refresh token")

// DeviceTokens is the token store for a single device.
type DeviceTokens struct {
	repo     Repository
	deviceID string
}

// NewDeviceTokens returns the token store view for deviceID.
func NewDeviceTokens(repo Repository, deviceID string) *DeviceTokens {
	return &DeviceTokens{repo: repo, deviceID: deviceID}
}

// Load returns the device session. A partial row is treated as no session.
func (t *DeviceTokens) Load(ctx context.Context) (domain.TokenPair, error) {
	pair, err := t.repo.GetTokens(ctx, t.deviceID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if !pair.Valid() {
		return domain.TokenPair{}, nil
	}
	return pair, nil
}

// Save persists a complete session.
func (t *DeviceTokens) Save(ctx context.Context, pair domain.TokenPair) error {
	if !pair.Valid() {
		return ErrPartialSession
	}
	return withRetry(ctx, "save tokens", t.deviceID, func() error {
		return t.repo.SaveTokens(ctx, t.deviceID, pair)
	})
}

// Clear removes the device session.
func (t *DeviceTokens) Clear(ctx context.Context) error {
	return withRetry(ctx, "clear tokens", t.deviceID, func() error {
		return t.repo.ClearTokens(ctx, t.deviceID)
	})
}

// withRetry retries op with exponential backoff while SQLite reports lock
// contention.
func withRetry(ctx context.Context, opName, deviceID string, op func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Database locked, retrying",
			"op", opName,
			"device_id", deviceID,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s for %s: %w", opName, deviceID, err)
}
