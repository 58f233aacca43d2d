package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	fhttp "github.com/mwaldron/foreman/internal/adapter/http"
	fmcp "github.com/mwaldron/foreman/internal/adapter/mcp"
	fnats "github.com/mwaldron/foreman/internal/adapter/nats"
	fotel "github.com/mwaldron/foreman/internal/adapter/otel"
	"github.com/mwaldron/foreman/internal/adapter/planfile"
	"github.com/mwaldron/foreman/internal/adapter/postgres"
	fristretto "github.com/mwaldron/foreman/internal/adapter/ristretto"
	_ "github.com/mwaldron/foreman/internal/adapter/staticreview" // register the static reviewer backend
	"github.com/mwaldron/foreman/internal/adapter/ws"
	"github.com/mwaldron/foreman/internal/config"
	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/logger"
	"github.com/mwaldron/foreman/internal/middleware"
	"github.com/mwaldron/foreman/internal/port/reviewer"
	"github.com/mwaldron/foreman/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"reviewer_backends", cfg.Reviewer.Backends,
	)

	ctx := context.Background()

	// --- Telemetry ---
	var metrics *fotel.Metrics
	if cfg.Telemetry.Enabled {
		shutdown, err := fotel.Init(ctx, cfg.Logging.Service, version, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("telemetry shutdown failed", "error", err)
			}
		}()

		metrics, err = fotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("telemetry metrics: %w", err)
		}
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS JetStream
	queue, err := fnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Error("nats drain failed", "error", err)
		}
	}()

	kv, err := queue.KeyValue(ctx, "foreman_idempotency", 24*time.Hour)
	if err != nil {
		return fmt.Errorf("nats kv: %w", err)
	}

	// Snapshot cache
	cache, err := fristretto.New(cfg.Cache.MaxBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Reviewer agents ---
	agents := make([]reviewer.Agent, 0, len(cfg.Reviewer.Backends))
	for i, name := range cfg.Reviewer.Backends {
		agent, err := reviewer.New(name, map[string]string{
			"id": fmt.Sprintf("%s-%d", name, i+1),
		})
		if err != nil {
			return fmt.Errorf("reviewer backend %s: %w", name, err)
		}
		agents = append(agents, agent)
	}

	// --- Services ---
	store := postgres.NewStore(pool)
	gate := capability.DefaultGate()
	artifact := planfile.New(cfg.Orchestrator.PlanPath)

	taskSvc := service.NewTaskService(store)
	workflowSvc := service.NewWorkflowService(store, queue)
	plannerSvc := service.NewPlannerService(store, queue, gate, artifact)
	handoffSvc := service.NewHandoffService(store, queue, artifact)
	fanoutSvc := service.NewFanoutService(store, queue, cache, agents,
		cfg.Reviewer.Timeout, cfg.Reviewer.SimilarityThreshold, cfg.Reviewer.SnapshotTTL)

	// Executor and CI provider backends are deployment-specific; without
	// them the implement and CI watch endpoints answer 503.

	// --- WebSocket hub ---
	hub := ws.NewHub()
	cancelRelay, err := ws.StartRelay(ctx, queue, hub)
	if err != nil {
		return fmt.Errorf("event relay: %w", err)
	}
	defer cancelRelay()

	// --- MCP server ---
	if cfg.MCP.Enabled {
		mcpSrv := fmcp.NewServer(
			fmcp.ServerConfig{Addr: cfg.MCP.Addr, Name: "foreman", Version: version},
			fmcp.ServerDeps{
				WorkflowReader: store,
				PlanReader:     store,
				ReportReader:   store,
			},
		)
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mcpSrv.Stop(stopCtx); err != nil {
				slog.Error("mcp server stop failed", "error", err)
			}
		}()
	}

	// --- HTTP ---
	handlers := &fhttp.Handlers{
		Tasks:     taskSvc,
		Workflows: workflowSvc,
		Planner:   plannerSvc,
		Handoffs:  handoffSvc,
		Fanout:    fanoutSvc,
		DB:        store,
		Metrics:   metrics,
	}

	r := chi.NewRouter()

	r.Use(fhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(fhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Telemetry.Enabled {
		r.Use(fotel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(middleware.Auth(cfg.Auth.TokenHash))
	r.Use(middleware.Idempotency(kv))

	r.Get("/health", healthHandler())
	r.Get("/health/ready", readyHandler(pool, queue))

	r.Get("/ws", hub.HandleWS)

	fhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports liveness.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	}
}

// readyHandler reports readiness: database reachable and queue connected.
func readyHandler(pool *pgxpool.Pool, queue *fnats.Queue) http.HandlerFunc {
	type readyStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := readyStatus{Status: "ok", Postgres: "ok", NATS: "ok"}
		code := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Postgres = err.Error()
			code = http.StatusServiceUnavailable
		}
		if !queue.IsConnected() {
			status.Status = "degraded"
			status.NATS = "disconnected"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
