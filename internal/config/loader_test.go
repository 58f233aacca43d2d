package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Reviewer.SimilarityThreshold != 0.5 {
		t.Errorf("expected similarity threshold 0.5, got %v", cfg.Reviewer.SimilarityThreshold)
	}
	if cfg.Orchestrator.MaxParallelSteps != 4 {
		t.Errorf("expected max_parallel_steps 4, got %d", cfg.Orchestrator.MaxParallelSteps)
	}
	if cfg.CI.WatchTimeout != 20*time.Minute {
		t.Errorf("expected ci watch timeout 20m, got %v", cfg.CI.WatchTimeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
reviewer:
  backends: ["alpha", "beta"]
  timeout: 2m
orchestrator:
  max_parallel_steps: 8
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if len(cfg.Reviewer.Backends) != 2 || cfg.Reviewer.Backends[0] != "alpha" {
		t.Errorf("expected backends [alpha beta], got %v", cfg.Reviewer.Backends)
	}
	if cfg.Reviewer.Timeout != 2*time.Minute {
		t.Errorf("expected reviewer timeout 2m, got %v", cfg.Reviewer.Timeout)
	}
	if cfg.Orchestrator.MaxParallelSteps != 8 {
		t.Errorf("expected max_parallel_steps 8, got %d", cfg.Orchestrator.MaxParallelSteps)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("FOREMAN_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("FOREMAN_REVIEWER_BACKENDS", "alpha, beta ,gamma")
	t.Setenv("FOREMAN_REVIEWER_SIMILARITY", "0.7")
	t.Setenv("FOREMAN_CI_WATCH_TIMEOUT", "5m")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if len(cfg.Reviewer.Backends) != 3 || cfg.Reviewer.Backends[1] != "beta" {
		t.Errorf("expected backends [alpha beta gamma], got %v", cfg.Reviewer.Backends)
	}
	if cfg.Reviewer.SimilarityThreshold != 0.7 {
		t.Errorf("expected similarity 0.7, got %v", cfg.Reviewer.SimilarityThreshold)
	}
	if cfg.CI.WatchTimeout != 5*time.Minute {
		t.Errorf("expected watch timeout 5m, got %v", cfg.CI.WatchTimeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty NATS URL",
			modify: func(c *Config) { c.NATS.URL = "" },
			errMsg: "nats.url is required",
		},
		{
			name:   "no reviewer backends",
			modify: func(c *Config) { c.Reviewer.Backends = nil },
			errMsg: "reviewer.backends must name at least one backend",
		},
		{
			name:   "similarity out of range",
			modify: func(c *Config) { c.Reviewer.SimilarityThreshold = 1.5 },
			errMsg: "reviewer.similarity_threshold must be in [0, 1]",
		},
		{
			name:   "zero parallel steps",
			modify: func(c *Config) { c.Orchestrator.MaxParallelSteps = 0 },
			errMsg: "orchestrator.max_parallel_steps must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)

			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLoadFromFullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "foreman.yaml")

	content := `
server:
  port: "9090"
ci:
  watch_timeout: 10m
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	// ENV beats YAML
	t.Setenv("FOREMAN_PORT", "7070")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected env to win with port 7070, got %s", cfg.Server.Port)
	}
	if cfg.CI.WatchTimeout != 10*time.Minute {
		t.Errorf("expected yaml watch timeout 10m, got %v", cfg.CI.WatchTimeout)
	}
}
