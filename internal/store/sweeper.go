package store

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = 1 * time.Hour

// StartDeviceSweeper runs a background goroutine that periodically removes
// devices (and their stored sessions) that have not been seen within ttl.
func StartDeviceSweeper(ctx context.Context, repo Repository, ttl time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Device sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepStaleDevices(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Device sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepStaleDevices(ctx context.Context, repo Repository, ttl time.Duration) {
	deleted, err := repo.DeleteStaleDevices(ctx, ttl)
	if err != nil {
		slog.Error("Device sweeper failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Device sweeper removed stale devices", "count", deleted)
	}
}
