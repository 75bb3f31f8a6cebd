//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/domain"
	"github.com/ashureev/angel-console/internal/identity"
	"github.com/ashureev/angel-console/internal/notify"
	"github.com/ashureev/angel-console/internal/store"
	"github.com/ashureev/angel-console/internal/venture"
)

const testDevice = "dev_0123456789abcdef0123456789abcdef"

// fakeAngel is a scripted Angel backend.
type fakeAngel struct {
	mu     sync.Mutex
	routes map[string]func(w http.ResponseWriter, r *http.Request)
	calls  []string
}

func (f *fakeAngel) handle(route string, fn func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = fn
}

func (f *fakeAngel) reply(route, body string) {
	f.handle(route, func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, body) })
}

func (f *fakeAngel) called(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == route {
			n++
		}
	}
	return n
}

func (f *fakeAngel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.calls = append(f.calls, route)
	fn := f.routes[route]
	f.mu.Unlock()
	if fn == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fn(w, r)
}

type testEnv struct {
	backend *fakeAngel
	repo    store.Repository
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := &fakeAngel{routes: make(map[string]func(http.ResponseWriter, *http.Request))}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	hub := notify.NewHub(logger, nil)
	pool := angel.NewPool(angel.PoolConfig{
		Base: angel.Config{
			BaseURL:    srv.URL,
			HTTPClient: srv.Client(),
			Logger:     logger,
			Timeout:    5 * time.Second,
		},
		TokensFor:   func(id string) angel.TokenStore { return store.NewDeviceTokens(repo, id) },
		NotifierFor: hub.ForDevice,
	})
	ventures := venture.NewRegistry(venture.Options{ImplicitKYCTransition: true, Logger: logger}, time.Hour)

	base := NewHandler(Deps{Repo: repo, Clients: pool, Ventures: ventures, Hub: hub, Logger: logger})
	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewAuthHandler(base).RegisterRoutes(r)
	NewVentureHandler(base, nil).RegisterRoutes(r)

	return &testEnv{backend: backend, repo: repo, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.AddCookie(&http.Cookie{Name: identity.DeviceCookieName, Value: testDevice})
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signIn(t *testing.T) {
	t.Helper()
	e.backend.reply("POST /auth/signin", `{"result":{"session":{"access_token":"a1","refresh_token":"r1"}}}`)
	rec := e.do(t, http.MethodPost, "/api/auth/signin", map[string]string{"email": "a@b.co", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const kycQuestion = `{"result":{"reply":"[[Q:KYC.06]] What is your budget?","progress":{"phase":"KYC","answered":5,"total":20,"percent":25}}}`

func TestVenturesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/ventures/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "/login", body.Redirect)
	assert.Equal(t, angel.KindUnauthorized, body.Kind)
	assert.Zero(t, env.backend.called("GET /angel/sessions"))
}

func TestSignInThenSession(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	rec := env.do(t, http.MethodGet, "/api/auth/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[angel.SessionStatus](t, rec).Authenticated)
	assert.NotContains(t, rec.Body.String(), "a1", "tokens never reach the browser")
}

func TestChatExchange(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	env.backend.reply("GET /angel/sessions/s1/current-question", kycQuestion)
	env.backend.handle("POST /angel/sessions/s1/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer a1", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"result":{"reply":"[[Q:KYC.07]] Who are your customers?","progress":{"phase":"KYC","answered":6,"total":20,"percent":30}}}`)
	})

	rec := env.do(t, http.MethodPost, "/api/ventures/s1/chat", map[string]string{"content": "10k"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	view := decode[venture.View](t, rec)
	assert.Equal(t, venture.ScreenChat, view.Screen)
	assert.Equal(t, "Who are your customers?", view.Question)
	assert.Equal(t, "30%", view.ProgressLabel)
	require.Len(t, view.History, 1)
	assert.Equal(t, "10k", view.History[0].Answer)
}

func TestChatFailureRestoresInput(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	env.backend.reply("GET /angel/sessions/s1/current-question", kycQuestion)
	env.backend.handle("POST /angel/sessions/s1/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := env.do(t, http.MethodPost, "/api/ventures/s1/chat", map[string]string{"content": "unsent"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[errorBody](t, rec)
	require.NotNil(t, body.RestoreInput)
	assert.Equal(t, "unsent", *body.RestoreInput)
	assert.Equal(t, angel.KindServer, body.Kind)

	view := decode[venture.View](t, env.do(t, http.MethodGet, "/api/ventures/s1", nil))
	assert.Empty(t, view.History)
}

func TestExpiredSessionRedirects(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	env.backend.handle("GET /angel/sessions", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	env.backend.handle("POST /auth/refresh-token", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	rec := env.do(t, http.MethodGet, "/api/ventures/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "/login", decode[errorBody](t, rec).Redirect)
	assert.Equal(t, 1, env.backend.called("POST /auth/refresh-token"))

	pair, err := env.repo.GetTokens(context.Background(), testDevice)
	require.NoError(t, err)
	assert.False(t, pair.Valid())
}

func TestPlanSummaryApprove(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	env.backend.reply("GET /angel/sessions/s1/current-question", kycQuestion)
	env.backend.reply("POST /angel/sessions/s1/chat",
		`{"result":{"reply":"Done","transition_phase":"PLAN_TO_ROADMAP","business_plan_summary":"Your plan","progress":{"phase":"PLAN_TO_ROADMAP_TRANSITION","answered":20,"total":20,"percent":100}}}`)
	env.backend.handle("POST /angel/sessions/s1/transition-decision", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"decision":"approve"}`, string(b))
		fmt.Fprint(w, `{"result":{"transition_phase":"ROADMAP_GENERATED","roadmap_content":"Month 1: build","progress":{"phase":"ROADMAP","answered":0,"total":0,"percent":0}}}`)
	})

	rec := env.do(t, http.MethodPost, "/api/ventures/s1/chat", map[string]string{"content": "last"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[venture.View](t, rec)
	assert.Equal(t, venture.ScreenPlanSummary, view.Screen)
	assert.Equal(t, "Your plan", view.Transition.BusinessPlanSummary)

	rec = env.do(t, http.MethodPost, "/api/ventures/s1/decision", map[string]string{"decision": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decode[venture.View](t, rec)
	assert.Equal(t, venture.ScreenRoadmap, view.Screen)
	assert.Equal(t, "Month 1: build", view.Roadmap)
}

func TestDecisionRejectsUnknownValue(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	env.backend.reply("GET /angel/sessions/s1/current-question", kycQuestion)

	rec := env.do(t, http.MethodPost, "/api/ventures/s1/decision", map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadBusinessPlan(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	env.backend.reply("GET /angel/sessions/s1/current-question",
		`{"result":{"reply":"Q","progress":{"phase":"BUSINESS_PLAN","answered":3,"total":30,"percent":10}}}`)
	env.backend.handle("POST /angel/sessions/s1/upload-business-plan", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		assert.Equal(t, "plan.md", hdr.Filename)
		fmt.Fprint(w, `{"result":{"reply":"Imported","progress":{"phase":"BUSINESS_PLAN","answered":25,"total":30,"percent":83}}}`)
	})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "plan.md")
	require.NoError(t, err)
	_, _ = part.Write([]byte("# My plan"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ventures/s1/upload-business-plan", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: identity.DeviceCookieName, Value: testDevice})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 25, decode[venture.View](t, rec).Progress.Answered)
}

func TestAgentUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	rec := env.do(t, http.MethodPost, "/api/ventures/s1/agents/astrology", map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentResearch(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	env.backend.handle("POST /specialized-agents/research", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.True(t, strings.Contains(string(b), `"session_id":"s1"`))
		fmt.Fprint(w, `{"result":{"content":"Market is growing"}}`)
	})

	rec := env.do(t, http.MethodPost, "/api/ventures/s1/agents/research", map[string]string{"query": "market size"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Market is growing", decode[angel.AgentReply](t, rec).Content)
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	rec := env.do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	pair, err := env.repo.GetTokens(context.Background(), testDevice)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenPair{}, pair)

	rec = env.do(t, http.MethodGet, "/api/ventures/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	r := chi.NewRouter()
	NewHealthHandler(env.repo, "test").RegisterHealth(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"test"`)
}
