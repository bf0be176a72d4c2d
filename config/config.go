package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
)

type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

type StorageConfig struct {
	Driver     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
}

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// SyncTimeout bounds each storage round trip made by a room.
	SyncTimeout time.Duration

	Storage StorageConfig
}

func Default() Config {
	return Config{
		Port:           "8080",
		Env:            "development",
		LogLevel:       "info",
		AllowedOrigins: []string{"http://localhost:1999", "http://127.0.0.1:1999"},
		MaxMessageSize: 64 * 1024,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		SyncTimeout: 5 * time.Second,
		Storage: StorageConfig{
			Driver: DriverMemory,
			DBHost: "localhost",
			DBPort: "3306",
		},
	}
}

// Load reads configuration from environment variables, falling back to
// Default for anything unset or unparseable.
func Load() Config {
	cfg := Default()

	setString(&cfg.Port, "PORT")
	setString(&cfg.Env, "ENV")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			cfg.MaxMessageSize = size
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimit.Burst = parseInt(v, cfg.RateLimit.Burst)
	}
	if v := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(v, cfg.RateLimit.RefillInterval)
	}
	if v := os.Getenv("SYNC_TIMEOUT"); v != "" {
		cfg.SyncTimeout = parseSeconds(v, cfg.SyncTimeout)
	}

	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setString(&cfg.Storage.DBHost, "DB_HOST")
	setString(&cfg.Storage.DBPort, "DB_PORT")
	setString(&cfg.Storage.DBUser, "DB_USER")
	setString(&cfg.Storage.DBPassword, "DB_PASSWORD")
	setString(&cfg.Storage.DBName, "DB_NAME")
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)

	return cfg
}

// AllowAllOrigins reports whether "*" appears in AllowedOrigins.
func (c Config) AllowAllOrigins() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
