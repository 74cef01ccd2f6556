package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort            = "8080"
	defaultRateLimit       = 20
	defaultShutdownTimeout = 5 * time.Second
)

type Config struct {
	DBDriver        string
	DSN             string
	Port            string
	AllowedOrigins  []string
	TrustedProxies  []string
	RateLimit       int
	AutoMigrate     bool
	ShutdownTimeout time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from getenv. Postgres needs either
// DATABASE_URL or the full set of POSTGRES_* variables.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DBDriver:        getenv("DB_DRIVER"),
		DSN:             getenv("DATABASE_URL"),
		Port:            getenv("SERVER_PORT_TASKS"),
		AllowedOrigins:  splitList(getenv("ALLOWED_ORIGINS")),
		TrustedProxies:  splitList(getenv("TRUSTED_PROXIES")),
		RateLimit:       defaultRateLimit,
		ShutdownTimeout: defaultShutdownTimeout,
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "postgres"
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	switch cfg.DBDriver {
	case "postgres":
		if cfg.DSN == "" {
			dsn, err := postgresDSN(getenv)
			if err != nil {
				return nil, err
			}
			cfg.DSN = dsn
		}
	case "sqlite3":
		if cfg.DSN == "" {
			cfg.DSN = "tasks.db"
		}
	default:
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", cfg.DBDriver)
	}

	if raw := getenv("RATE_LIMIT_PER_SECOND"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("RATE_LIMIT_PER_SECOND must be a positive integer, got %q", raw)
		}
		cfg.RateLimit = n
	}
	if raw := getenv("AUTO_MIGRATE"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("AUTO_MIGRATE: %w", err)
		}
		cfg.AutoMigrate = b
	}
	if raw := getenv("SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("SHUTDOWN_TIMEOUT must be a positive duration, got %q", raw)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}

func postgresDSN(getenv func(string) string) (string, error) {
	required := []string{"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_HOST", "POSTGRES_PORT"}
	for _, env := range required {
		if getenv(env) == "" {
			return "", fmt.Errorf("environment variable %s must be set (or DATABASE_URL)", env)
		}
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD")),
		Host:     getenv("POSTGRES_HOST") + ":" + getenv("POSTGRES_PORT"),
		Path:     getenv("POSTGRES_DB"),
		RawQuery: "sslmode=disable",
	}
	return u.String(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
