package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "foreman.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FOREMAN_PORT")
	setString(&cfg.Server.CORSOrigin, "FOREMAN_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FOREMAN_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FOREMAN_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FOREMAN_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FOREMAN_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FOREMAN_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "FOREMAN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FOREMAN_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FOREMAN_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "FOREMAN_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FOREMAN_BREAKER_TIMEOUT")
	setStrings(&cfg.Reviewer.Backends, "FOREMAN_REVIEWER_BACKENDS")
	setDuration(&cfg.Reviewer.Timeout, "FOREMAN_REVIEWER_TIMEOUT")
	setFloat64(&cfg.Reviewer.SimilarityThreshold, "FOREMAN_REVIEWER_SIMILARITY")
	setDuration(&cfg.Reviewer.SnapshotTTL, "FOREMAN_REVIEWER_SNAPSHOT_TTL")
	setDuration(&cfg.CI.WatchTimeout, "FOREMAN_CI_WATCH_TIMEOUT")
	setInt(&cfg.Orchestrator.MaxParallelSteps, "FOREMAN_ORCH_MAX_PARALLEL")
	setInt(&cfg.Orchestrator.VerifyRetries, "FOREMAN_ORCH_VERIFY_RETRIES")
	setString(&cfg.Orchestrator.PlanPath, "FOREMAN_PLAN_PATH")
	setInt64(&cfg.Cache.MaxBytes, "FOREMAN_CACHE_MAX_BYTES")
	setBool(&cfg.Telemetry.Enabled, "FOREMAN_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "FOREMAN_OTLP_ENDPOINT")
	setBool(&cfg.MCP.Enabled, "FOREMAN_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "FOREMAN_MCP_ADDR")
	setString(&cfg.Auth.TokenHash, "FOREMAN_AUTH_TOKEN_HASH")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if len(cfg.Reviewer.Backends) == 0 {
		return errors.New("reviewer.backends must name at least one backend")
	}
	if cfg.Reviewer.Timeout <= 0 {
		return errors.New("reviewer.timeout must be positive")
	}
	if cfg.Reviewer.SimilarityThreshold < 0 || cfg.Reviewer.SimilarityThreshold > 1 {
		return errors.New("reviewer.similarity_threshold must be in [0, 1]")
	}
	if cfg.CI.WatchTimeout <= 0 {
		return errors.New("ci.watch_timeout must be positive")
	}
	if cfg.Orchestrator.MaxParallelSteps < 1 {
		return errors.New("orchestrator.max_parallel_steps must be >= 1")
	}
	if cfg.Orchestrator.PlanPath == "" {
		return errors.New("orchestrator.plan_path is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
