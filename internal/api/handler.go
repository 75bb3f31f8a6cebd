// Package api provides the browser-facing HTTP handlers of the console.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/identity"
	"github.com/ashureev/angel-console/internal/notify"
	"github.com/ashureev/angel-console/internal/store"
	"github.com/ashureev/angel-console/internal/venture"
)

// maxJSONBody limits decoded request bodies.
const maxJSONBody = 1 << 20

// Deps are the collaborators of the handlers.
type Deps struct {
	Repo      store.Repository
	Clients   *angel.Pool
	Ventures  *venture.Registry
	Hub       *notify.Hub
	LoginPath string
	// MaxUploadBytes bounds business plan uploads.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Handler provides common handler utilities.
type Handler struct {
	repo      store.Repository
	clients   *angel.Pool
	ventures  *venture.Registry
	hub       *notify.Hub
	loginPath string
	maxUpload int64
	logger    *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.LoginPath == "" {
		d.LoginPath = "/login"
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		repo:      d.Repo,
		clients:   d.Clients,
		ventures:  d.Ventures,
		hub:       d.Hub,
		loginPath: d.LoginPath,
		maxUpload: d.MaxUploadBytes,
		logger:    d.Logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorBody is the error shape of every console endpoint.
type errorBody struct {
	Error    string     `json:"error"`
	Kind     angel.Kind `json:"kind,omitempty"`
	Redirect string     `json:"redirect,omitempty"`
	// RestoreInput is the unsent answer the input field should get back.
	RestoreInput *string `json:"restore_input,omitempty"`
}

// writeError maps err to a status and the console error shape.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: angel.UserMessage(err)}

	var submitErr *venture.SubmitError
	if errors.As(err, &submitErr) {
		answer := submitErr.Answer
		body.RestoreInput = &answer
	}

	status := http.StatusInternalServerError
	var stateErr *venture.StateError
	switch {
	case errors.Is(err, venture.ErrBusy):
		status, body.Error = http.StatusConflict, "Please wait for the current reply."
	case errors.As(err, &stateErr):
		status, body.Error = http.StatusConflict, stateErr.Error()
	case errors.Is(err, venture.ErrClosed):
		status, body.Error = http.StatusConflict, "This conversation was reset. Please reload."
	case errors.Is(err, venture.ErrEmptyAnswer):
		status, body.Error, body.Kind = http.StatusBadRequest, "Please enter an answer.", angel.KindInvalidInput
	default:
		body.Kind = angel.KindOf(err)
		switch body.Kind {
		case angel.KindUnauthorized:
			status, body.Redirect = http.StatusUnauthorized, h.loginPath
		case angel.KindRateLimit:
			status = http.StatusTooManyRequests
		case angel.KindInvalidInput:
			status = http.StatusBadRequest
		case angel.KindNetwork:
			status = http.StatusBadGateway
		case angel.KindServer:
			status = http.StatusBadGateway
		default:
			h.logger.Error("Unclassified handler error", "error", err)
		}
	}
	JSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		JSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: angel.KindInvalidInput})
		return false
	}
	return true
}

// client returns the Angel client of the requesting device.
func (h *Handler) client(r *http.Request) (*angel.Client, string) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	return h.clients.Get(deviceID), deviceID
}
