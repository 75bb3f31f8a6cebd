package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/angel-console/internal/store"
)

// HealthHandler reports service health.
type HealthHandler struct {
	repo    store.Repository
	version string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository, version string) *HealthHandler {
	return &HealthHandler{repo: repo, version: version}
}

// RegisterHealth registers GET /api/health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health checks database connectivity.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
		"version":  h.version,
	})
}
