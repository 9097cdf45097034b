package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendSQL    = "sql"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var (
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required for the sql backend")
	ErrMissingRedisAddr   = errors.New("REDIS_ADDR is required for the redis backend")
)

type Config struct {
	AppName  string
	AppEnv   string
	Timezone string

	HTTP  HTTPConfig
	DB    DBConfig
	Redis RedisConfig
	Rate  RateConfig
	Log   LogConfig
}

type HTTPConfig struct {
	ListenAddr  string
	APIPrefix   string
	HealthPath  string
	MetricsPath string
	CORSOrigins []string
	ReadTimeout time.Duration
}

type DBConfig struct {
	Backend     string
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type RateConfig struct {
	PerHour int64
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName:  mustEnv("APP_NAME", "chatdock"),
		AppEnv:   strings.ToLower(mustEnv("APP_ENV", "local")),
		Timezone: mustEnv("APP_TIMEZONE", "Asia/Tokyo"),
		HTTP: HTTPConfig{
			ListenAddr:  mustEnv("HTTP_LISTEN_ADDR", ":8000"),
			APIPrefix:   mustEnv("API_V1_PREFIX", "/api/v1"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
			CORSOrigins: splitList(mustEnv("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),
			ReadTimeout: mustDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		},
		DB: DBConfig{
			Backend:     strings.ToLower(mustEnv("DB_BACKEND", BackendSQL)),
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:data/app.db"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:      mustEnv("REDIS_ADDR", ""),
			Password:  mustEnv("REDIS_PASSWORD", ""),
			DB:        mustInt("REDIS_DB", 0),
			KeyPrefix: mustEnv("REDIS_KEY_PREFIX", "chatdock:"),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 0)),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	switch cfg.DB.Backend {
	case BackendSQL:
		if cfg.DB.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	case BackendMemory:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, ErrMissingRedisAddr
		}
	default:
		return nil, fmt.Errorf("unsupported DB_BACKEND %q", cfg.DB.Backend)
	}

	if cfg.Rate.PerHour > 0 && cfg.Redis.Addr == "" {
		return nil, ErrMissingRedisAddr
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
