package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/harborline/steward/internal/auth"
	"github.com/harborline/steward/internal/budget"
	"github.com/harborline/steward/internal/config"
	"github.com/harborline/steward/internal/connector"
	"github.com/harborline/steward/internal/engine"
	"github.com/harborline/steward/internal/events"
	"github.com/harborline/steward/internal/memstore"
	"github.com/harborline/steward/internal/planner"
	"github.com/harborline/steward/internal/policy"
	"github.com/harborline/steward/internal/ratelimit"
	"github.com/harborline/steward/internal/server"
	"github.com/harborline/steward/internal/storage"
	"github.com/harborline/steward/internal/store"
	"github.com/harborline/steward/internal/telemetry"
	"github.com/harborline/steward/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("STEWARD_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("steward starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Select the run store. A DATABASE_URL means Postgres with embedded
	// migrations; without one everything lives in memory and is lost on
	// restart, which is only acceptable for local development.
	var st store.Store
	var pinger interface{ Ping(context.Context) error }
	if cfg.DatabaseURL != "" {
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}

		st = db
		pinger = db
		logger.Info("store: postgres")
	} else {
		st = memstore.New()
		logger.Warn("store: in-memory (no DATABASE_URL set, state is not persisted)")
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Spending ledger shared by the budget gate and the dispatcher.
	ledger := budget.New(st, budget.Limits{
		Daily:   cfg.BudgetDailyLimit,
		Monthly: cfg.BudgetMonthlyLimit,
	})

	// Per-user notification bus backing the SSE stream.
	bus := events.NewBus(events.Options{
		BufferSize: cfg.EventBufferSize,
		MaxPerUser: cfg.EventMaxPerUser,
		ReplaySize: cfg.EventReplaySize,
		ReplayTTL:  cfg.EventReplayTTL,
	})
	defer bus.Close()

	// Register the built-in connectors.
	registry, err := connector.DefaultRegistry(connector.Config{
		SearchMaxResults: cfg.SearchMaxResults,
		EmailAPIKey:      cfg.EmailAPIKey,
		EmailFrom:        cfg.EmailFrom,
		HTTPMaxBodyBytes: cfg.HTTPMaxBodyBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("connectors: %w", err)
	}

	// Build the planner. The LLM backend is optional; the keyword
	// fallback handles every message when no API key is configured.
	backend, err := newPlannerBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	pol := policy.Policy{
		HighCostThreshold: cfg.HighCostThreshold,
		MidCostThreshold:  cfg.MidCostThreshold,
	}
	pl := planner.New(backend, pol, logger)

	eng := engine.New(st, pl, registry, ledger, bus, engine.Options{
		ApprovalTTL: cfg.ApprovalTTL,
		StepTimeout: cfg.StepTimeout,
	}, logger)

	// Create rate limiters. The token endpoint is throttled per client
	// IP; authenticated routes per user.
	var authLimiter, apiLimiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		authLimiter = ratelimit.NewMemoryLimiter(cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst)
		apiLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = authLimiter.Close() }()
		defer func() { _ = apiLimiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"api_rps", cfg.RateLimitRPS, "auth_rps", cfg.AuthRateLimitRPS)
	} else {
		authLimiter = ratelimit.NoopLimiter{}
		apiLimiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		Store:               st,
		JWTMgr:              jwtMgr,
		Engine:              eng,
		Bus:                 bus,
		Logger:              logger,
		AuthLimiter:         authLimiter,
		APILimiter:          apiLimiter,
		Pinger:              pinger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Keepalive:           cfg.EventKeepalive,
	})

	// Seed the admin user.
	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminAPIKey); err != nil {
		slog.Warn("admin seed failed", "error", err)
	}

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight
	// executions. Run state already persisted survives the restart; the
	// bus is advisory and is simply closed.
	slog.Info("steward shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("steward stopped")
	return nil
}

// newPlannerBackend selects the step decomposition backend. An API key
// enables the chat model; otherwise the keyword heuristic plans
// everything.
func newPlannerBackend(cfg config.Config, logger *slog.Logger) (planner.Backend, error) {
	if cfg.PlannerAPIKey == "" {
		logger.Info("planner: heuristic (no STEWARD_PLANNER_API_KEY)")
		return planner.Heuristic{}, nil
	}

	opts := []openai.Option{
		openai.WithToken(cfg.PlannerAPIKey),
		openai.WithModel(cfg.PlannerModel),
	}
	if cfg.PlannerBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.PlannerBaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	logger.Info("planner: llm", "model", cfg.PlannerModel)
	return planner.NewLLMBackend(llm), nil
}
