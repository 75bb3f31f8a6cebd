package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/angel-console/internal/angel"
)

// AuthHandler handles sign-up, sign-in and session endpoints. Tokens stay on
// the server; the browser only learns whether it is signed in.
type AuthHandler struct {
	*Handler
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(base *Handler) *AuthHandler {
	return &AuthHandler{Handler: base}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", h.SignUp)
		r.Post("/signin", h.SignIn)
		r.Post("/reset-password", h.ResetPassword)
		r.Post("/logout", h.Logout)
		r.Get("/session", h.Session)
	})
}

// SignUp registers an account.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var creds angel.Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}
	client, _ := h.client(r)
	if err := client.SignUp(r.Context(), creds); err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"status": "confirmation_sent"})
}

// SignIn authenticates and stores the session for this device.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var creds angel.Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}
	client, deviceID := h.client(r)
	if _, err := client.SignIn(r.Context(), creds); err != nil {
		h.writeError(w, err)
		return
	}
	// Conversations of a previous account must not leak into this one.
	h.ventures.CloseDevice(deviceID)

	status, err := client.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// ResetPassword requests a password reset email.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	client, _ := h.client(r)
	if err := client.ResetPassword(r.Context(), body.Email); err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "reset_email_sent"})
}

// Logout clears the device session and its conversations.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	client, deviceID := h.client(r)
	if err := client.Logout(r.Context()); err != nil {
		h.logger.Error("Failed to clear session", "error", err, "device_id", deviceID)
		Error(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	closed := h.ventures.CloseDevice(deviceID)
	h.clients.Forget(deviceID)
	h.logger.Info("Device signed out", "device_id", deviceID, "conversations_closed", closed)
	JSON(w, http.StatusOK, map[string]string{"status": "signed_out", "redirect": h.loginPath})
}

// Session reports whether the device holds a session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	client, _ := h.client(r)
	status, err := client.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}
