// Package main is the entrypoint for the tenantgate API server.
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

	"github.com/kiranshivaraju/tenantgate/internal/api"
	"github.com/kiranshivaraju/tenantgate/internal/api/handler"
	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/cache"
	"github.com/kiranshivaraju/tenantgate/internal/config"
	"github.com/kiranshivaraju/tenantgate/internal/metrics"
	"github.com/kiranshivaraju/tenantgate/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "tenant_cache", cfg.Redis.URL != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Optional Redis tenant cache
	var tenantCache cache.Cache
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		tenantCache = redisCache
		slog.Info("redis connected", "tenant_cache_ttl", cfg.Redis.TenantCacheTTL)
	}

	// 5. Build router with dependencies
	router, closeRouter, err := newRouter(cfg, store.NewPostgresStore(pool), tenantCache)
	if err != nil {
		return err
	}
	defer closeRouter()

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newRouter wires the services over s. c may be nil, in which case tenant
// lookups always hit the store. The returned func releases background work.
func newRouter(cfg *config.Config, s store.Store, c cache.Cache) (http.Handler, func(), error) {
	backing := s
	if c != nil {
		backing = cache.NewCachedTenants(s, c, cfg.Redis.TenantCacheTTL)
	}

	recorder := audit.NewRecorder(backing, cfg.Audit.WriteTimeout)
	passwords := auth.NewPasswords(cfg.Auth.BcryptCost)
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, cfg.Auth.TokenIssuer)
	if err != nil {
		return nil, nil, fmt.Errorf("create token service: %w", err)
	}
	guard := auth.NewGuard(backing, recorder)
	keys := auth.NewAPIKeys(backing, guard, recorder)
	resolver := auth.NewResolver(backing, tokens, keys, recorder)
	sessions := auth.NewSessions(backing, passwords, tokens, recorder)

	rateLimit := mw.NewRateLimit(recorder, cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)

	router := api.NewRouter(api.Dependencies{
		Auth:           mw.NewAuth(resolver, guard),
		RateLimit:      rateLimit,
		TrustedProxies: cfg.Server.TrustedProxies,

		HealthHandler:  healthHandler(s, c),
		MetricsHandler: metrics.Handler(),

		Sessions:     handler.NewAuth(sessions),
		APIKeys:      handler.NewAPIKeys(keys),
		Users:        handler.NewUsers(backing, guard, passwords, recorder),
		Projects:     handler.NewProjects(backing, guard, recorder),
		Organization: handler.NewOrganization(backing, recorder),
		Audit:        handler.NewAudit(backing, guard, recorder),
	})
	return router, rateLimit.Close, nil
}

// healthHandler checks database and cache connectivity. A nil cache is
// reported as disabled and does not degrade the service.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "disabled",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if c != nil {
			checks["cache"] = "ok"
			if err := c.Ping(r.Context()); err != nil {
				checks["cache"] = "degraded"
			}
		}

		degraded := checks["database"] != "ok" || checks["cache"] == "degraded"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
