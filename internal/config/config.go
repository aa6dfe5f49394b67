package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config is the Remote Flash Service configuration.
type Config struct {
	ServerPort         string
	StorageDriver      string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTExpiry          time.Duration
	RateLimitPerMinute int
	// TrustProxy takes client addresses from X-Forwarded-For/X-Real-IP.
	// Enable only behind a reverse proxy that sets them.
	TrustProxy bool
	LogLevel   string
}

func LoadConfig() (*Config, error) {
	expiry, err := time.ParseDuration(getEnv("JWT_EXPIRY", "24h"))
	if err != nil {
		return nil, errors.New("invalid JWT_EXPIRY format")
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_MINUTE", "30"))
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid RATE_LIMIT_PER_MINUTE")
	}

	trustProxy, err := strconv.ParseBool(getEnv("TRUST_PROXY", "false"))
	if err != nil {
		return nil, errors.New("invalid TRUST_PROXY")
	}

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		StorageDriver:      getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTExpiry:          expiry,
		RateLimitPerMinute: rateLimit,
		TrustProxy:         trustProxy,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required")
		}
	case StorageDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// ClientConfig is the device-side configuration used by the flash CLI.
type ClientConfig struct {
	Home            string
	ServerURL       string
	SyncInterval    time.Duration
	PushConcurrency int
	HTTPTimeout     time.Duration
	LogLevel        string
}

// DatabasePath is the on-device SQLite file holding flashes and the queue.
func (c *ClientConfig) DatabasePath() string {
	return filepath.Join(c.Home, "flash.db")
}

func LoadClientConfig() (*ClientConfig, error) {
	home := os.Getenv("FLASH_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		home = filepath.Join(userHome, ".flash")
	}

	interval, err := time.ParseDuration(getEnv("FLASH_SYNC_INTERVAL", "30s"))
	if err != nil || interval < time.Second {
		return nil, errors.New("FLASH_SYNC_INTERVAL must be a duration of at least 1s")
	}

	timeout, err := time.ParseDuration(getEnv("FLASH_HTTP_TIMEOUT", "10s"))
	if err != nil || timeout <= 0 {
		return nil, errors.New("invalid FLASH_HTTP_TIMEOUT")
	}

	concurrency, err := strconv.Atoi(getEnv("FLASH_PUSH_CONCURRENCY", "4"))
	if err != nil || concurrency <= 0 {
		return nil, errors.New("invalid FLASH_PUSH_CONCURRENCY")
	}

	return &ClientConfig{
		Home:            home,
		ServerURL:       getEnv("FLASH_SERVER_URL", "http://localhost:8080"),
		SyncInterval:    interval,
		PushConcurrency: concurrency,
		HTTPTimeout:     timeout,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
