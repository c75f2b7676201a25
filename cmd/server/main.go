package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/config"
	"shopledger/backend/internal/httpapi"
	"shopledger/backend/internal/logging"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
	pgstore "shopledger/backend/internal/store/postgres"
	sqlitestore "shopledger/backend/internal/store/sqlite"
)

func main() {
	logging.Setup()
	cfg := config.Load()

	if cfg.AuthSecret == "" {
		slog.Warn("AUTH_SECRET is not set, using an insecure development default")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg)
	if err != nil {
		slog.Error("store initialization failed", "error", err)
		os.Exit(1)
	}

	lookupCache := cache.LookupCache(cache.NoopLookupCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisLookupCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, using noop cache", "error", err)
		} else {
			lookupCache = redisCache
			closers = append(closers, redisCache.Close)
			slog.Info("cache: redis", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("cache: noop")
	}

	svc := service.New(repo, lookupCache, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("shop backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			slog.Warn("close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

// openRepository picks the store backend: postgres when DATABASE_URL is
// set, in-memory when STORE=memory, the embedded sqlite file otherwise.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, []func() error, error) {
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pg.Close)
		slog.Info("repository: postgres")
		return pg, closers, nil
	case cfg.StoreKind == "memory":
		slog.Info("repository: in-memory (dev only)")
		return memory.NewSeeded(), closers, nil
	default:
		lite, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, lite.Close)
		slog.Info("repository: sqlite", "path", cfg.SQLitePath)
		return lite, closers, nil
	}
}
