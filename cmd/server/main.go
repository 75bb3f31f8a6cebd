// Angel venture console server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/api"
	"github.com/ashureev/angel-console/internal/config"
	"github.com/ashureev/angel-console/internal/identity"
	"github.com/ashureev/angel-console/internal/metrics"
	"github.com/ashureev/angel-console/internal/middleware"
	"github.com/ashureev/angel-console/internal/notify"
	"github.com/ashureev/angel-console/internal/store"
	"github.com/ashureev/angel-console/internal/venture"
	"github.com/ashureev/angel-console/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// AI-backed endpoints per device per minute.
const aiRequestsPerMinute = 30

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.Backend.BaseURL, "version", version)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	m := metrics.New()
	hub := notify.NewHub(logger.With("component", "notify"), m)

	clients := angel.NewPool(angel.PoolConfig{
		Base: angel.Config{
			BaseURL:        cfg.Backend.BaseURL,
			Observer:       m,
			Logger:         logger.With("component", "angel"),
			Timeout:        cfg.Backend.RequestTimeout,
			RefreshTimeout: cfg.Backend.RefreshTimeout,
			LoginPath:      cfg.LoginPath,
		},
		TokensFor: func(deviceID string) angel.TokenStore {
			return store.NewDeviceTokens(repo, deviceID)
		},
		NotifierFor: hub.ForDevice,
		IdleTTL:     cfg.Venture.IdleTTL,
	})

	ventures := venture.NewRegistry(venture.Options{
		ImplicitKYCTransition: cfg.Venture.ImplicitKYCTransition,
		Observer:              m,
		Logger:                logger.With("component", "venture"),
	}, cfg.Venture.IdleTTL)

	limiter := middleware.NewRateLimiter(aiRequestsPerMinute, time.Minute)

	// Initialize handlers.
	baseHandler := api.NewHandler(api.Deps{
		Repo:           repo,
		Clients:        clients,
		Ventures:       ventures,
		Hub:            hub,
		LoginPath:      cfg.LoginPath,
		MaxUploadBytes: cfg.Backend.MaxUploadBytes,
		Logger:         logger,
	})
	authHandler := api.NewAuthHandler(baseHandler)
	ventureHandler := api.NewVentureHandler(baseHandler, limiter.Limit(func(r *http.Request) string {
		return identity.DeviceIDFromContext(r.Context())
	}))
	healthHandler := api.NewHealthHandler(repo, version)
	wsHandler := notify.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(origins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	if cfg.Metrics {
		r.Handle("/metrics", m.Handler())
	}

	authHandler.RegisterRoutes(r)
	ventureHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/notices", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// AI replies can take longer than a minute, so WriteTimeout stays above
	// the backend request timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Backend.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	store.StartDeviceSweeper(ctx, repo, cfg.DeviceTTL)
	limiter.StartEviction(ctx)
	ventures.StartSweeper(ctx, func(count int) {
		m.VenturesEvicted(count)
		if pruned := clients.Prune(ventures.HasDevice); pruned > 0 {
			slog.Info("Released idle device clients", "count", pruned)
		}
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	ventures.CloseAll()

	slog.Info("Server stopped successfully")
}
