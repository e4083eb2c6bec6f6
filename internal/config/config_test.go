package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadBasic(t *testing.T) {
	t.Setenv("PORT", "8000")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("RESPONDER", "canned")
	t.Setenv("CORS_ALLOWED_ORIGINS", "*")
	t.Setenv("LOG_LEVEL", "info")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected port 8000, got %q", cfg.Port)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("expected sqlite driver, got %q", cfg.Store.Driver)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("RESPONDER", "canned")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000, https://chat.example.com")
	t.Setenv("RATE_LIMIT_REQUESTS", "20")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CONVERSATION_LOG_ENABLED", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %q", cfg.Port)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("expected memory driver, got %q", cfg.Store.Driver)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://chat.example.com" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
	if cfg.RateLimit.Requests != 20 || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
	if !cfg.ConversationLog.Enabled {
		t.Error("expected conversation log enabled")
	}
}

func validConfig() *Config {
	return &Config{
		Port:            "8000",
		MaxRequestBody:  1 << 20,
		ShutdownTimeout: 10 * time.Second,
		Store:           StoreConfig{Driver: DriverSQLite, DBPath: "./data/chat.db"},
		Responder:       ResponderConfig{Kind: ResponderCanned},
		Health:          HealthConfig{ProbeInterval: time.Second, ProbeTimeout: time.Second},
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*Config)
		wantErr bool
	}{
		"valid":              {func(*Config) {}, false},
		"empty port":         {func(c *Config) { c.Port = "" }, true},
		"same grpc port":     {func(c *Config) { c.GRPCPort = "8000" }, true},
		"unknown driver":     {func(c *Config) { c.Store.Driver = "mongo" }, true},
		"postgres no url":    {func(c *Config) { c.Store.Driver = DriverPostgres }, true},
		"postgres with url":  {func(c *Config) { c.Store.Driver = DriverPostgres; c.Store.DatabaseURL = "postgres://x" }, false},
		"redis no url":       {func(c *Config) { c.Store.Driver = DriverRedis }, true},
		"gemini without key": {func(c *Config) { c.Responder.Kind = ResponderGemini }, true},
		"unknown responder":  {func(c *Config) { c.Responder.Kind = "oracle" }, true},
		"rate limit window":  {func(c *Config) { c.RateLimit.Requests = 5 }, true},
		"log without path":   {func(c *Config) { c.ConversationLog.Enabled = true }, true},
		"zero probe timeout": {func(c *Config) { c.Health.ProbeTimeout = 0 }, true},
	}

	for name, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
	}
}
