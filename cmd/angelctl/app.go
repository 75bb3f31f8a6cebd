package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/config"
	"github.com/ashureev/angel-console/internal/domain"
	"github.com/ashureev/angel-console/internal/store"
	"github.com/ashureev/angel-console/internal/venture"
)

// cliDevice is the device id the terminal session is stored under.
const cliDevice = "cli"

type rootOptions struct {
	apiURL   string
	dbPath   string
	logLevel string
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "angelctl.db")
	}
	return filepath.Join(dir, appName, "session.db")
}

// app holds the collaborators of one command invocation.
type app struct {
	cfg    *config.Config
	repo   store.Repository
	client *angel.Client
	logger *slog.Logger
	out    io.Writer
}

func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(opts.logLevel)}))

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}
	if opts.apiURL != "" {
		if err := os.Setenv("ANGEL_API_URL", opts.apiURL); err != nil {
			return nil, fmt.Errorf("set api url: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	repo, err := store.NewSQLite(opts.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	now := time.Now()
	device := &domain.Device{DeviceID: cliDevice, Label: appName, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	if err := repo.UpsertDevice(cmd.Context(), device); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("register device: %w", err)
	}

	errOut := cmd.ErrOrStderr()
	client := angel.NewClient(angel.Config{
		BaseURL:        cfg.Backend.BaseURL,
		Tokens:         store.NewDeviceTokens(repo, cliDevice),
		Notifier:       terminalNotifier(errOut),
		Logger:         logger,
		Timeout:        cfg.Backend.RequestTimeout,
		RefreshTimeout: cfg.Backend.RefreshTimeout,
	})

	return &app{cfg: cfg, repo: repo, client: client, logger: logger, out: cmd.OutOrStdout()}, nil
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		a.logger.Error("Failed to close session database", "error", err)
	}
}

// machine returns a hydrated conversation for sessionID.
func (a *app) machine(ctx context.Context, sessionID string) (*venture.Machine, error) {
	m := venture.NewMachine(sessionID, a.client, venture.Options{
		ImplicitKYCTransition: a.cfg.Venture.ImplicitKYCTransition,
		Logger:                a.logger,
	})
	if _, err := m.Hydrate(ctx, ""); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// terminalNotifier prints notices where a browser would show a toast.
func terminalNotifier(w io.Writer) angel.Notifier {
	return angel.NotifierFunc(func(_ context.Context, n angel.Notice) {
		fmt.Fprintf(w, "! %s\n", n.Message)
		if n.Redirect != "" {
			fmt.Fprintf(w, "  Run \"%s signin\" to continue.\n", appName)
		}
	})
}

// withApp runs fn with a fresh app and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
