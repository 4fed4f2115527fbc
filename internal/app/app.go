package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nimbuschat/gatekeeper/internal/config"
	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/http/handler"
	"github.com/nimbuschat/gatekeeper/internal/http/middleware"
	"github.com/nimbuschat/gatekeeper/internal/http/router"
	"github.com/nimbuschat/gatekeeper/internal/identity"
	"github.com/nimbuschat/gatekeeper/internal/observability"
	"github.com/nimbuschat/gatekeeper/internal/repository"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

// App owns every long-lived dependency of one service instance and knows how
// to wind them down in order.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	AdminSessions service.AdminSessionManager

	db    *gorm.DB
	redis *redis.Client
}

// New wires repositories, services, and the HTTP surface. Redis is optional;
// without it the verify cache runs in process memory and the login limiter
// throttles per instance.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*App, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(
		&domain.UsageRecord{},
		&domain.Subscription{},
		&domain.Plan{},
		&domain.AdminSession{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, continuing degraded", "addr", cfg.RedisAddr, "error", err.Error())
		}
		cancel()
	}

	catalog := service.NewCatalogService(repository.NewPlanRepository(db))
	ledger := service.NewUsageLedger(
		repository.NewUsageRepository(db),
		repository.NewSubscriptionRepository(db),
		catalog,
		cfg.UsageLocation(),
		cfg.TrialDailyLimit,
	)

	var verifyCache service.VerifyCacheStore
	if redisClient != nil {
		verifyCache = service.NewRedisVerifyCacheStore(redisClient, "verify_cache")
	} else {
		verifyCache = service.NewInMemoryVerifyCacheStore()
	}
	verifier := service.NewVerifier(
		identity.Default(cfg.AuthProviderURL, cfg.AuthProviderKey),
		verifyCache,
		cfg.VerifyCacheTTL,
	)

	sessions := service.NewAdminSessions(
		repository.NewAdminSessionRepository(db),
		cfg.AdminSecretHash,
		cfg.AdminSessionPepper,
		cfg.AdminSessionTTL,
	)

	var loginLimiter middleware.Limiter
	if redisClient != nil {
		loginLimiter = middleware.NewRedisFixedWindowLimiter(redisClient, "ratelimit:admin_login", cfg.AdminLoginRateLimit, time.Minute)
	} else {
		loginLimiter = middleware.NewLocalFixedWindowLimiter(cfg.AdminLoginRateLimit, time.Minute)
	}
	loginRateLimiter := middleware.NewRateLimiter(
		loginLimiter,
		cfg.AdminLoginRateLimit,
		middleware.FailureMode(cfg.AdminLoginRateMode),
		"admin_login",
	).Middleware()

	h := router.NewRouter(router.Dependencies{
		UsageHandler:     handler.NewUsageHandler(ledger),
		PlanHandler:      handler.NewPlanHandler(catalog),
		AdminHandler:     handler.NewAdminHandler(sessions),
		Verifier:         verifier,
		AdminSessions:    sessions,
		LoginRateLimiter: loginRateLimiter,
		Readiness:        readiness(db, redisClient),
		EnableOTelHTTP:   cfg.OTELHTTPEnabled,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		AdminSessions: sessions,
		db:            db,
		redis:         redisClient,
	}, nil
}

// Run serves until ctx is cancelled or the listener fails, then drains
// in-flight requests and flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.Config.AdminCleanupEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(a.Config.AdminCleanupEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					removed, err := a.AdminSessions.Cleanup(gctx)
					if err != nil {
						a.Logger.Warn("admin session cleanup failed", "error", err.Error())
						continue
					}
					if removed > 0 {
						a.Logger.Info("admin session cleanup", "removed", removed)
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(drainCtx)
	})

	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := a.Observability.Shutdown(flushCtx); shutdownErr != nil {
		a.Logger.Warn("observability shutdown incomplete", "error", shutdownErr.Error())
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	return err
}

// readiness pings the hard dependencies. Redis degrades features instead of
// blocking them, so only the database gates readiness.
func readiness(db *gorm.DB, redisClient *redis.Client) router.ReadinessFunc {
	return func(ctx context.Context) (bool, map[string]string) {
		checks := make(map[string]string)
		ready := true

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			checks["database"] = err.Error()
			ready = false
		} else {
			checks["database"] = "ok"
		}

		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				checks["redis"] = "degraded: " + err.Error()
			} else {
				checks["redis"] = "ok"
			}
		}
		return ready, checks
	}
}
