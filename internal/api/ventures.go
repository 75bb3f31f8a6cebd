package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/domain"
	"github.com/ashureev/angel-console/internal/identity"
	"github.com/ashureev/angel-console/internal/store"
	"github.com/ashureev/angel-console/internal/venture"
)

// VentureHandler serves the venture conversation endpoints.
type VentureHandler struct {
	*Handler
	// limit wraps the endpoints that reach the AI backend.
	limit func(http.Handler) http.Handler
}

// NewVentureHandler creates the venture handler. limit may be nil.
func NewVentureHandler(base *Handler, limit func(http.Handler) http.Handler) *VentureHandler {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &VentureHandler{Handler: base, limit: limit}
}

// RegisterRoutes registers venture routes.
func (h *VentureHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/ventures", func(r chi.Router) {
		r.Use(h.requireSession)
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.View)
			r.With(h.limit).Post("/chat", h.Chat)
			r.Post("/decision", h.Decision)
			r.With(h.limit).Post("/plan", h.Plan)
			r.Get("/roadmap", h.Roadmap)
			r.Put("/roadmap", h.EditRoadmap)
			r.Post("/implementation/transition", h.ImplementationTransition)
			r.Post("/implementation/start", h.StartImplementation)
			r.Get("/tasks/current", h.CurrentTask)
			r.Post("/tasks/{taskID}/complete", h.CompleteTask)
			r.With(h.limit).Post("/upload-business-plan", h.UploadBusinessPlan)
			r.With(h.limit).Post("/agents/{kind}", h.Agent)
		})
	})
}

// requireSession answers 401 with the login redirect when the device holds
// no session, without calling the backend.
func (h *VentureHandler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := identity.DeviceIDFromContext(r.Context())
		pair, err := store.NewDeviceTokens(h.repo, deviceID).Load(r.Context())
		if err != nil {
			h.logger.Error("Failed to load session", "error", err, "device_id", deviceID)
			Error(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		if !pair.Valid() {
			JSON(w, http.StatusUnauthorized, errorBody{
				Error:    "Please sign in to continue.",
				Kind:     angel.KindUnauthorized,
				Redirect: h.loginPath,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// machine returns the hydrated machine for the {id} venture.
func (h *VentureHandler) machine(w http.ResponseWriter, r *http.Request) (*venture.Machine, bool) {
	client, deviceID := h.client(r)
	m := h.ventures.Get(deviceID, chi.URLParam(r, "id"), client)
	if m.Hydrated() {
		return m, true
	}
	hint, _ := domain.ParsePhase(r.URL.Query().Get("phase"))
	if _, err := m.Hydrate(r.Context(), hint); err != nil && !errors.Is(err, venture.ErrBusy) {
		h.writeError(w, err)
		return nil, false
	}
	return m, true
}

// List returns the user's ventures.
func (h *VentureHandler) List(w http.ResponseWriter, r *http.Request) {
	client, _ := h.client(r)
	sessions, err := client.ListSessions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.VentureSummary{}
	}
	JSON(w, http.StatusOK, map[string]any{"ventures": sessions})
}

// Create starts a new venture.
func (h *VentureHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		title = "Untitled venture"
	}
	client, _ := h.client(r)
	summary, err := client.CreateSession(r.Context(), title)
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, summary)
}

// View returns the current conversation view.
func (h *VentureHandler) View(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, m.View())
}

// respond writes the view returned by a machine action.
func (h *VentureHandler) respond(w http.ResponseWriter, view venture.View, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Chat submits an answer.
func (h *VentureHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.Submit(r.Context(), body.Content)
	h.respond(w, view, err)
}

// Decision approves or revisits the business plan summary.
func (h *VentureHandler) Decision(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision angel.Decision `json:"decision"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	switch body.Decision {
	case angel.DecisionApprove:
		view, err := m.Approve(r.Context())
		h.respond(w, view, err)
	case angel.DecisionRevisit:
		view, err := m.Revisit(r.Context())
		h.respond(w, view, err)
	default:
		JSON(w, http.StatusBadRequest, errorBody{Error: `decision must be "approve" or "revisit"`, Kind: angel.KindInvalidInput})
	}
}

// Plan fetches the written business plan.
func (h *VentureHandler) Plan(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.GeneratePlan(r.Context())
	h.respond(w, view, err)
}

// Roadmap fetches the roadmap.
func (h *VentureHandler) Roadmap(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.GenerateRoadmap(r.Context())
	h.respond(w, view, err)
}

// EditRoadmap saves an edited roadmap.
func (h *VentureHandler) EditRoadmap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.EditRoadmap(r.Context(), body.Content)
	h.respond(w, view, err)
}

// ImplementationTransition requests the roadmap-to-implementation hand-off.
func (h *VentureHandler) ImplementationTransition(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.RequestImplementation(r.Context())
	h.respond(w, view, err)
}

// StartImplementation starts the implementation phase.
func (h *VentureHandler) StartImplementation(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.StartImplementation(r.Context())
	h.respond(w, view, err)
}

// CurrentTask refreshes the current task.
func (h *VentureHandler) CurrentTask(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.CurrentTask(r.Context())
	h.respond(w, view, err)
}

// CompleteTask completes a task.
func (h *VentureHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.CompleteTask(r.Context(), chi.URLParam(r, "taskID"))
	h.respond(w, view, err)
}

// UploadBusinessPlan accepts a multipart "file" field.
func (h *VentureHandler) UploadBusinessPlan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		JSON(w, http.StatusBadRequest, errorBody{Error: "a business plan file is required", Kind: angel.KindInvalidInput})
		return
	}
	defer file.Close()

	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	view, err := m.UploadBusinessPlan(r.Context(), header.Filename, file)
	h.respond(w, view, err)
}

// Agent calls a specialized agent for this venture.
func (h *VentureHandler) Agent(w http.ResponseWriter, r *http.Request) {
	kind, ok := angel.ParseAgentKind(chi.URLParam(r, "kind"))
	if !ok {
		Error(w, http.StatusNotFound, "unknown agent")
		return
	}
	var body struct {
		TaskID string `json:"task_id"`
		Query  string `json:"query"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	client, _ := h.client(r)
	reply, err := client.Agent(r.Context(), kind, angel.AgentRequest{
		SessionID: chi.URLParam(r, "id"),
		TaskID:    body.TaskID,
		Query:     body.Query,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}
