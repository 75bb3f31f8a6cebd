package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/angel-console/internal/identity"
)

const writeTimeout = 5 * time.Second

// Handler serves GET /ws/notices.
type Handler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates the WebSocket handler for hub.
func NewHandler(hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev, logger: hub.logger}
}

type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "missing device identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	t := h.hub.register(deviceID, tabID, ws)
	defer h.hub.unregister(deviceID, tabID, t)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, t, deviceID)
	}()
	h.writeLoop(ctx, ws, t, deviceID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, t *tab, deviceID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-t.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("WebSocket write error", "error", err, "device_id", deviceID)
				return
			}
		}
	}
}

// readLoop answers pings and ends when the client goes away.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, t *tab, deviceID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "device_id", deviceID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case t.out <- []byte(`{"type":"pong"}`):
			default:
			}
		}
	}
}
