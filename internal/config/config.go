package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Backend   BackendConfig
	Dashboard DashboardConfig
	Export    ExportConfig
	CORS      CORSConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Port     int
	Env      string
	LogLevel string
}

// BackendConfig points at the recognition backend
type BackendConfig struct {
	BaseURL    string
	Timeout    time.Duration
	StatusPath string
}

type DashboardConfig struct {
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// ExportConfig holds where exported files are saved and served from
type ExportConfig struct {
	Dir     string
	BaseURL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads .env if present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := &Config{}

	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}
	config.App = AppConfig{
		Port:     appPort,
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	backendTimeout, err := getEnvDuration("BACKEND_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	config.Backend = BackendConfig{
		BaseURL:    getEnv("BACKEND_BASE_URL", "http://localhost:5000"),
		Timeout:    backendTimeout,
		StatusPath: getEnv("BACKEND_STATUS_PATH", ""),
	}

	pollInterval, err := getEnvDuration("POLL_INTERVAL", "5s")
	if err != nil {
		return nil, err
	}
	confirmTimeout, err := getEnvDuration("CONFIRM_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	config.Dashboard = DashboardConfig{
		PollInterval:   pollInterval,
		ConfirmTimeout: confirmTimeout,
	}

	config.Export = ExportConfig{
		Dir:     getEnv("EXPORT_DIR", "exports"),
		BaseURL: getEnv("EXPORT_BASE_URL", "/exports"),
	}

	config.CORS = CORSConfig{
		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("APP_PORT must be between 1 and 65535")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_BASE_URL must be an absolute http(s) url")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.Backend.StatusPath != "" && !strings.HasPrefix(c.Backend.StatusPath, "/") {
		return fmt.Errorf("BACKEND_STATUS_PATH must start with /")
	}
	if c.Dashboard.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Dashboard.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be positive")
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("EXPORT_DIR is required")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvSlice(key, fallback string) []string {
	var result []string
	for _, v := range strings.Split(getEnv(key, fallback), ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	return result
}
