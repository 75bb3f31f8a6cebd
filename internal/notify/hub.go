// Package notify delivers user-facing notices to the browser tabs of a
// device over WebSocket.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/angel-console/internal/angel"
)

// outboxSize bounds the per-tab backlog. A tab that falls further behind
// loses notices rather than blocking the caller.
const outboxSize = 16

// Notice is the message sent to the browser.
type Notice struct {
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	Kind      angel.Kind `json:"kind"`
	Message   string     `json:"message"`
	Redirect  string     `json:"redirect,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Observer receives delivery events for metrics.
type Observer interface {
	NoticeSent(kind angel.Kind, delivered bool)
}

type noopObserver struct{}

func (noopObserver) NoticeSent(angel.Kind, bool) {}

type tab struct {
	conn *websocket.Conn
	out  chan []byte
}

// Hub tracks the notice connections of every device.
type Hub struct {
	logger   *slog.Logger
	observer Observer

	mu     sync.RWMutex
	active map[string]map[string]*tab
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, observer Observer) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Hub{
		logger:   logger,
		observer: observer,
		active:   make(map[string]map[string]*tab),
	}
}

// register adds a connection for a device tab. A previous connection of the
// same tab is closed.
func (h *Hub) register(deviceID, tabID string, conn *websocket.Conn) *tab {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[deviceID]; !exists {
		h.active[deviceID] = make(map[string]*tab)
	}
	if existing, exists := h.active[deviceID][tabID]; exists && existing.conn != conn {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "tab replaced")
	}

	t := &tab{conn: conn, out: make(chan []byte, outboxSize)}
	h.active[deviceID][tabID] = t
	h.logger.Info("Notice connection registered", "device_id", deviceID, "tab_id", tabID)
	return t
}

// unregister removes t if it is still the tab's current connection.
func (h *Hub) unregister(deviceID, tabID string, t *tab) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tabs, ok := h.active[deviceID]; ok {
		if current, exists := tabs[tabID]; exists && current == t {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(h.active, deviceID)
			}
			h.logger.Info("Notice connection unregistered", "device_id", deviceID, "tab_id", tabID)
		}
	}
}

// CloseDevice closes every connection of a device.
func (h *Hub) CloseDevice(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.active[deviceID]
	if !ok {
		return
	}
	for tid, t := range tabs {
		_ = t.conn.Close(websocket.StatusNormalClosure, "device closed")
		h.logger.Info("Notice connection closed", "device_id", deviceID, "tab_id", tid)
	}
	delete(h.active, deviceID)
}

// Connected returns the number of open tabs of a device.
func (h *Hub) Connected(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[deviceID])
}

// Notify sends n to every tab of the device and returns the number of tabs
// that accepted it. With no tab connected the notice is only logged; the
// failed HTTP call still reports the error to its caller.
func (h *Hub) Notify(_ context.Context, deviceID string, n angel.Notice) int {
	msg := Notice{
		Type:      "notice",
		ID:        uuid.NewString(),
		Kind:      n.Kind,
		Message:   n.Message,
		Redirect:  n.Redirect,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode notice", "error", err)
		return 0
	}

	h.mu.RLock()
	delivered := 0
	for tid, t := range h.active[deviceID] {
		select {
		case t.out <- data:
			delivered++
		default:
			h.logger.Warn("Notice dropped, tab backlog full", "device_id", deviceID, "tab_id", tid)
		}
	}
	h.mu.RUnlock()

	h.observer.NoticeSent(n.Kind, delivered > 0)
	if delivered == 0 {
		h.logger.Info("Notice not delivered, no tab connected",
			"device_id", deviceID,
			"notice_id", msg.ID,
			"kind", n.Kind,
			"message", n.Message,
		)
	}
	return delivered
}

// ForDevice returns an angel.Notifier bound to deviceID.
func (h *Hub) ForDevice(deviceID string) angel.Notifier {
	return angel.NotifierFunc(func(ctx context.Context, n angel.Notice) {
		h.Notify(ctx, deviceID, n)
	})
}
