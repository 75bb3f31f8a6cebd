package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANGEL_API_URL", "https://api.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.LoginPath != "/login" {
		t.Errorf("expected default login path, got %q", cfg.LoginPath)
	}
	if !cfg.Venture.ImplicitKYCTransition {
		t.Error("expected implicit KYC transition enabled by default")
	}
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "45")
	t.Setenv("REFRESH_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend.RequestTimeout != 45*time.Second {
		t.Errorf("expected 45s request timeout, got %v", cfg.Backend.RequestTimeout)
	}
	if cfg.Backend.RefreshTimeout != 5*time.Second {
		t.Errorf("expected 5s refresh timeout, got %v", cfg.Backend.RefreshTimeout)
	}
}

func TestValidateRejectsRelativeBackend(t *testing.T) {
	t.Setenv("ANGEL_API_URL", "/api")

	if _, err := Load(); err == nil {
		t.Fatal("expected relative backend URL to be rejected")
	}
}

func TestValidateRejectsLoginPath(t *testing.T) {
	t.Setenv("LOGIN_PATH", "login")

	if _, err := Load(); err == nil {
		t.Fatal("expected login path without slash to be rejected")
	}
}
