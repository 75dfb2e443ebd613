package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fashcheck/fashcheck/internal/activity"
	"github.com/fashcheck/fashcheck/internal/analytics"
	"github.com/fashcheck/fashcheck/internal/api"
	"github.com/fashcheck/fashcheck/internal/auth"
	"github.com/fashcheck/fashcheck/internal/config"
	"github.com/fashcheck/fashcheck/internal/database"
	"github.com/fashcheck/fashcheck/internal/dispatch"
	mw "github.com/fashcheck/fashcheck/internal/middleware"
	inats "github.com/fashcheck/fashcheck/internal/nats"
	"github.com/fashcheck/fashcheck/internal/quota"
	iredis "github.com/fashcheck/fashcheck/internal/redis"
	"github.com/fashcheck/fashcheck/internal/server"
	"github.com/fashcheck/fashcheck/internal/users"
)

const counterPurgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("migrating database", "error", err)
		os.Exit(1)
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var natsClient *inats.Client
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
	}

	// Quota
	registry, err := quota.LoadRegistryFile(cfg.Quota.PolicyFile)
	if err != nil {
		slog.Error("loading quota policies", "error", err, "path", cfg.Quota.PolicyFile)
		os.Exit(1)
	}
	ledger := quota.NewRepository(pool)
	evaluator := quota.NewEvaluator(registry, ledger)

	var enforcerOpts []quota.Option
	tracker := analytics.NewTracker()
	activityRepo := activity.NewRepository(pool)
	if natsClient != nil {
		publisher := inats.NewPublisher(natsClient.JetStream())
		enforcerOpts = append(enforcerOpts, quota.WithObserver(activity.NewQuotaObserver(publisher)))

		consumer := activity.NewConsumer(activityRepo, inats.NewConsumerManager(natsClient.JetStream()), tracker)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("activity consumer stopped", "error", err)
			}
		}()
	}

	enforcer := quota.NewEnforcer(evaluator, newReserver(cfg.Quota, redisClient, ledger), enforcerOpts...)
	slog.Info("quota enforcement configured",
		"mode", enforcer.Mode(), "reserver", cfg.Quota.Reserver, "actions", len(registry.Policies()))

	if enforcer.Mode() == quota.ModeStrong && cfg.Quota.Reserver == config.ReserverPostgres {
		go purgeCounters(ctx, ledger)
	}

	// Auth and users
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)
	userSvc := users.NewService(users.NewRepository(pool))

	// Handlers
	quotaHandler := quota.NewHandler(enforcer, userSvc)
	activityHandler := activity.NewHandler(activityRepo)
	analyticsHandler := analytics.NewHandler(tracker)

	handlers := api.HandlerSet{
		ListQuota: quotaHandler.ListStatus,
		GetQuota:  quotaHandler.GetStatus,
		ListTiers: quotaHandler.ListTiers,
		GetMyTier: quotaHandler.GetMyTier,

		ListActivity:  activityHandler.List,
		ActivityStats: activityHandler.Stats,

		RecordFeedback: analyticsHandler.RecordFeedback,
		GetAnalytics:   analyticsHandler.Get,

		AuthMiddleware: auth.Middleware(jwtManager),
	}

	if natsClient != nil {
		dispatchHandler := dispatch.NewHandler(
			dispatch.NewDispatcher(natsClient.Conn(), cfg.Dispatch.SubjectPrefix, cfg.Dispatch.Timeout))
		for _, p := range registry.Policies() {
			handlers.GatedActions = append(handlers.GatedActions, string(p.Action))
		}
		handlers.RequireQuota = func(action string) func(http.Handler) http.Handler {
			return quotaHandler.Require(quota.Action(action))
		}
		handlers.AIAction = func(action string) http.HandlerFunc {
			return dispatchHandler.Action(quota.Action(action))
		}
	} else {
		slog.Warn("NATS not configured: AI endpoints and activity events disabled")
	}

	healthChecks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, pool) },
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"nats":     nil,
	}
	if natsClient != nil {
		healthChecks["nats"] = func(context.Context) error {
			if !natsClient.Healthy() {
				return errNATSDisconnected
			}
			return nil
		}
	}

	rateLimiter := mw.NewRateLimiter(redisClient, "api", cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindowSec)

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		APIRateLimiter:     rateLimiter.Middleware,
		HealthChecks:       healthChecks,
	}, handlers)

	// Start server
	srv := server.New(cfg.Server, router, cfg.Dispatch.Timeout)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

var errNATSDisconnected = errors.New("nats disconnected")

// newReserver picks the strong-mode counter store. Weak mode has none.
func newReserver(cfg config.QuotaConfig, rdb *redis.Client, repo *quota.Repository) quota.Reserver {
	if cfg.Mode == config.QuotaModeWeak {
		return nil
	}
	if cfg.Reserver == config.ReserverPostgres {
		return repo
	}
	return quota.NewRedisReserver(rdb)
}

// purgeCounters drops Postgres reservation counters of past windows.
func purgeCounters(ctx context.Context, repo *quota.Repository) {
	ticker := time.NewTicker(counterPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.PurgeExpiredCounters(ctx, now.Add(-time.Hour))
			if err != nil {
				slog.Warn("purging quota counters", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("purged quota counters", "rows", n)
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
