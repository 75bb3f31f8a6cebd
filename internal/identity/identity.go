// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/angel-console/internal/domain"
	"github.com/ashureev/angel-console/internal/store"
)

const (
	DeviceCookieName   = "angel_device_id"
	TabHeaderName      = "X-Angel-Tab-ID"
	DefaultTabIDValue  = "default"
	deviceCookieMaxAge = 30 * 24 * time.Hour
	// lastSeenGranularity limits last_seen_at writes to one per device per window.
	lastSeenGranularity = 5 * time.Minute
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	tabIDKey
)

var (
	deviceIDPattern = regexp.MustCompile(`^dev_[a-f0-9]{32}$`)
	tabIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// DeviceIDFromContext extracts the device ID from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabIDValue
}

// WithDevice returns ctx carrying deviceID and tabID. Used by tests and by
// callers that resolve identity outside the middleware.
func WithDevice(ctx context.Context, deviceID, tabID string) context.Context {
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	return context.WithValue(ctx, tabIDKey, sanitizeTabID(tabID))
}

func generateDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "dev_" + hex.EncodeToString(buf), nil
}

func isValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabIDValue
	}
	return id
}

func deriveLabel(r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > 120 {
		ua = ua[:120]
	}
	if ua == "" {
		return "unknown device"
	}
	return ua
}

func ensureDevice(ctx context.Context, repo store.Repository, deviceID string, r *http.Request) error {
	device, err := repo.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	now := time.Now()
	if device != nil {
		if now.Sub(device.LastSeenAt) < lastSeenGranularity {
			return nil
		}
		if err := repo.UpdateLastSeen(ctx, deviceID, now); err != nil {
			slog.Warn("Failed to update last seen", "error", err, "device_id", deviceID)
		}
		return nil
	}

	return repo.UpsertDevice(ctx, &domain.Device{
		DeviceID:   deviceID,
		Label:      deriveLabel(r),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func setDeviceCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(DeviceCookieName); err == nil && isValidDeviceID(c.Value) {
		setDeviceCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateDeviceID()
	if err != nil {
		return "", err
	}
	setDeviceCookie(w, id, isDev)
	return id, nil
}

func tabIDFromRequest(r *http.Request) string {
	tid := r.Header.Get(TabHeaderName)
	if tid == "" {
		tid = r.URL.Query().Get("tab_id")
	}
	return sanitizeTabID(tid)
}

// Middleware injects the anonymous device identity and per-request tab ID.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, err := getOrCreateDeviceID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish device identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureDevice(r.Context(), repo, deviceID, r); err != nil {
				slog.Error("Failed to initialize device", "error", err, "device_id", deviceID)
				http.Error(w, `{"error":"failed to initialize device"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithDevice(r.Context(), deviceID, tabIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
