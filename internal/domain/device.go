// Package domain contains core domain types for the Angel venture console.
package domain

import (
	"time"
)

// Device represents one browser profile talking to the console. Tokens and
// conversation state are scoped to a device.
type Device struct {
	DeviceID   string    `json:"device_id"`
	Label      string    `json:"label"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsStale returns true if the device has not been seen within ttl.
func (d *Device) IsStale(ttl time.Duration) bool {
	return time.Since(d.LastSeenAt) > ttl
}
