// AngelaMos | 2026
// serve.go

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/carterperez-dev/goldsave/internal/admin"
	"github.com/carterperez-dev/goldsave/internal/auth"
	"github.com/carterperez-dev/goldsave/internal/config"
	"github.com/carterperez-dev/goldsave/internal/core"
	"github.com/carterperez-dev/goldsave/internal/health"
	"github.com/carterperez-dev/goldsave/internal/middleware"
	"github.com/carterperez-dev/goldsave/internal/server"
	"github.com/carterperez-dev/goldsave/internal/user"
)

const (
	drainDelay = 5 * time.Second
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return serve(cfg, logger)
		},
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	telemetry, err := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
	if err != nil {
		logger.Warn("failed to initialize telemetry", "error", err)
	} else if telemetry.Enabled() {
		logger.Info("OpenTelemetry tracer initialized",
			"endpoint", cfg.Otel.Endpoint,
		)
	}

	if cfg.Database.AutoMigrate {
		if err := core.Migrate(cfg.Database.URL, core.MigrateUp); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.NewRedis(cfg.Redis)
	if err != nil {
		return err
	}
	if err := redis.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, rate limits fall back to local buckets",
			"error", err,
		)
	} else {
		logger.Info("redis connected", "pool_size", cfg.Redis.PoolSize)
	}

	clock := core.SystemClock{}

	codec, err := auth.NewTokenCodec(cfg.JWT, clock)
	if err != nil {
		return err
	}
	logger.Info("token codec initialized",
		"algorithm", "HS256",
		"access_ttl", codec.AccessTokenTTL(),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := auth.NewMetrics(registry)

	sessionRepo := auth.NewRepository(db.DB)
	revoker := auth.NewRevoker(sessionRepo, clock, metrics, logger)

	userRepo := user.NewRepository(db.DB)
	userSvc := user.NewService(userRepo, revoker, clock, logger)
	userHandler := user.NewHandler(userSvc)

	authSvc := auth.NewService(auth.ServiceConfig{
		Repo:     sessionRepo,
		Codec:    codec,
		Users:    userSvc,
		Detector: auth.NewDetector(sessionRepo, cfg.Anomaly, clock),
		Revoker:  revoker,
		Metrics:  metrics,
		Clock:    clock,
		Logger:   logger,
	})
	authHandler := auth.NewHandler(authSvc)

	janitor := auth.NewJanitor(sessionRepo, cfg.Session, clock, metrics, logger)

	healthHandler := health.NewHandler(
		health.Dependency{Name: "database", Checker: db, Critical: true},
		health.Dependency{Name: "redis", Checker: redis},
	)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		Users:      userSvc,
		Sessions:   authSvc,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Tracing)
	router.Use(middleware.Logger(logger))
	router.Use(middleware.OptionalAuth(codec))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Name: "global",
			Limit: middleware.PerWindow(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
				cfg.RateLimit.Window,
			),
			KeyFunc:    middleware.KeyByUser,
			FailOpen:   true,
			BypassFunc: isProbe(cfg.Metrics.Path),
			Logger:     logger,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{Registry: registry},
		))
	}

	authenticator := middleware.Authenticator(codec)
	adminOnly := middleware.RequireAdmin

	signInLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Name: "signin",
		Limit: middleware.PerMinute(
			cfg.RateLimit.SignInRequests,
			cfg.RateLimit.SignInBurst,
		),
		KeyFunc:  middleware.KeyBySignInAttempt,
		FailOpen: true,
		Logger:   logger,
	}).Handler

	router.Route("/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r, authenticator, signInLimiter)
		userHandler.RegisterRoutes(r, authenticator)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	janitor.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		janitor.Stop()
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	janitor.Stop()

	if telemetry.Enabled() {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

// isProbe keeps health and scrape traffic out of the rate limiter.
func isProbe(metricsPath string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		p := r.URL.Path
		return p == metricsPath ||
			p == "/healthz" || p == "/livez" || p == "/readyz"
	}
}
