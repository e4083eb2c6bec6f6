// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Responder kinds.
const (
	ResponderCanned = "canned"
	ResponderGemini = "gemini"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string // empty disables the gRPC health server
	LogLevel        slog.Level
	CORSOrigins     []string
	MaxRequestBody  int64
	ShutdownTimeout time.Duration

	Store           StoreConfig
	Responder       ResponderConfig
	RateLimit       RateLimitConfig
	Health          HealthConfig
	ConversationLog ConversationLogConfig
}

// StoreConfig selects and locates the turn store.
type StoreConfig struct {
	Driver         string
	DBPath         string
	DatabaseURL    string
	RedisURL       string
	RedisKeyPrefix string
}

// ResponderConfig selects the reply generator.
type ResponderConfig struct {
	Kind          string
	ResponsesFile string
	APIKey        string
	Model         string
	Timeout       time.Duration
}

// RateLimitConfig bounds requests per client IP. Requests <= 0 disables it.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// HealthConfig controls the background store probe.
type HealthConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// ConversationLogConfig controls the NDJSON transcript log.
type ConversationLogConfig struct {
	Enabled   bool
	Path      string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8000"),
		GRPCPort:        getEnv("GRPC_PORT", ""),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		CORSOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxRequestBody:  int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Store: StoreConfig{
			Driver:         strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
			DBPath:         getEnv("DB_PATH", "./data/chat.db"),
			DatabaseURL:    getEnv("DATABASE_URL", ""),
			RedisURL:       getEnv("REDIS_URL", ""),
			RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "chat-relay"),
		},
		Responder: ResponderConfig{
			Kind:          strings.ToLower(getEnv("RESPONDER", ResponderCanned)),
			ResponsesFile: getEnv("RESPONSES_FILE", ""),
			APIKey:        getEnv("LLM_API_KEY", ""),
			Model:         getEnv("LLM_MODEL", "gemini-2.0-flash"),
			Timeout:       getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 0),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Health: HealthConfig{
			ProbeInterval: getEnvDuration("HEALTH_PROBE_INTERVAL", 15*time.Second),
			ProbeTimeout:  getEnvDuration("HEALTH_PROBE_TIMEOUT", 5*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Path:      getEnv("CONVERSATION_LOG_PATH", "./data/logs/conversation.ndjson"),
			QueueSize: queueSize,
		},
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
	if c.GRPCPort != "" && c.GRPCPort == c.Port {
		return fmt.Errorf("GRPC_PORT must differ from PORT")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for STORE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Responder.Kind {
	case ResponderCanned:
	case ResponderGemini:
		if c.Responder.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required for RESPONDER=gemini")
		}
	default:
		return fmt.Errorf("unknown RESPONDER %q", c.Responder.Kind)
	}

	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0 when rate limiting is enabled")
	}
	if c.Health.ProbeInterval <= 0 {
		return fmt.Errorf("HEALTH_PROBE_INTERVAL must be > 0")
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("HEALTH_PROBE_TIMEOUT must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Path == "" {
		return fmt.Errorf("CONVERSATION_LOG_PATH cannot be empty")
	}
	return nil
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
