// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LoginPath   string
	Backend     BackendConfig
	Venture     VentureConfig
	DeviceTTL   time.Duration
	Metrics     bool
}

// BackendConfig controls how the console talks to the Angel API.
type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	MaxUploadBytes int64
}

// VentureConfig controls the in-memory conversation machines.
type VentureConfig struct {
	IdleTTL time.Duration
	// ImplicitKYCTransition enables the fallback that treats the first
	// BUSINESS_PLAN reply after KYC as a KYC_TO_BUSINESS_PLAN transition
	// when the backend sends no explicit flag.
	ImplicitKYCTransition bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/angel.db"),
		LoginPath:   getEnv("LOGIN_PATH", "/login"),
		Backend: BackendConfig{
			BaseURL:        strings.TrimSuffix(getEnv("ANGEL_API_URL", "http://localhost:8000"), "/"),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 90*time.Second),
			RefreshTimeout: getEnvDuration("REFRESH_TIMEOUT", 15*time.Second),
			MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Venture: VentureConfig{
			IdleTTL:               getEnvDuration("VENTURE_IDLE_TTL", 2*time.Hour),
			ImplicitKYCTransition: getEnvBool("IMPLICIT_KYC_TRANSITION", true),
		},
		DeviceTTL: getEnvDuration("DEVICE_TTL", 30*24*time.Hour),
		Metrics:   getEnvBool("METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must start with /")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ANGEL_API_URL must be an absolute URL")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.Backend.RefreshTimeout <= 0 {
		return fmt.Errorf("REFRESH_TIMEOUT must be > 0")
	}
	if c.Backend.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.Venture.IdleTTL <= 0 {
		return fmt.Errorf("VENTURE_IDLE_TTL must be > 0")
	}
	if c.DeviceTTL <= 0 {
		return fmt.Errorf("DEVICE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
