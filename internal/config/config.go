package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingDatabaseURL is returned by Validate when no store is configured.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Browser   BrowserConfig
	Proxy     ProxyConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type DatabaseConfig struct {
	URL         string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	PollInterval time.Duration
}

type BrowserConfig struct {
	Headless  bool
	Timeout   time.Duration
	UserAgent string
	Locale    string
}

type ProxyConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

type RateLimitConfig struct {
	Min time.Duration
	Max time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("PORT", "5000"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getDurationOrDefault("REQUEST_TIMEOUT", 90*time.Second),
		},
		Database: DatabaseConfig{
			URL:         os.Getenv("DATABASE_URL"),
			MaxConns:    int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns:    int32(getIntOrDefault("DB_MIN_CONNS", 0)),
			MaxConnLife: getDurationOrDefault("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdle: getDurationOrDefault("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:         os.Getenv("REDIS_ADDR"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:price_observed"),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
		},
		Browser: BrowserConfig{
			Headless:  getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:   getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent: os.Getenv("BROWSER_USER_AGENT"),
			Locale:    getEnvOrDefault("BROWSER_LOCALE", "en-IN"),
		},
		Proxy: ProxyConfig{
			APIKey:   os.Getenv("SCRAPER_API_KEY"),
			Endpoint: getEnvOrDefault("SCRAPER_API_ENDPOINT", "http://api.scraperapi.com"),
			Timeout:  getDurationOrDefault("PROXY_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Min: getDurationOrDefault("RATE_LIMIT_MIN", 0),
			Max: getDurationOrDefault("RATE_LIMIT_MAX", 0),
		},
		CORS: CORSConfig{
			AllowedOrigins: getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate is the startup gate. The process must not serve without a store.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrMissingDatabaseURL
	}

	if _, err := StoreKind(c.Database.URL); err != nil {
		return err
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Server.Port)
	}

	if c.RateLimit.Min < 0 || c.RateLimit.Max < 0 {
		return fmt.Errorf("RATE_LIMIT_MIN and RATE_LIMIT_MAX must not be negative")
	}

	if c.RateLimit.Min > c.RateLimit.Max {
		return fmt.Errorf("RATE_LIMIT_MIN cannot be greater than RATE_LIMIT_MAX")
	}

	if c.Database.MaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}

	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

const (
	StorePostgres = "postgres"
	StoreFile     = "file"
)

// StoreKind classifies a DATABASE_URL by scheme.
func StoreKind(dsn string) (string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return StorePostgres, nil
	case strings.HasPrefix(dsn, "file://"):
		return StoreFile, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme, want postgres:// or file://")
	}
}

// FilePath returns the path part of a file:// DATABASE_URL.
func FilePath(dsn string) string {
	return strings.TrimPrefix(dsn, "file://")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
