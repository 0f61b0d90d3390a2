package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"shopauth/internal/httpapi"
	"shopauth/internal/identity"
	"shopauth/internal/metrics"
	"shopauth/internal/shop"
	"shopauth/internal/shopifysession"
	"shopauth/pkg/config"
	"shopauth/pkg/db"
	"shopauth/pkg/logger"
	"shopauth/pkg/redis"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.AppEnv)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("shopauth exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rc.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	var sessions shopifysession.Store
	switch cfg.SessionStorage {
	case config.SessionStoragePostgres:
		if cfg.MigrationsPath != "" {
			if err := db.Migrate(cfg.MigrationsPath, cfg); err != nil {
				return err
			}
		}
		pool, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := shopifysession.NewPostgresStore(pool, shopifysession.WithTimeout(cfg.StoreTimeout))
		go purgeExpired(ctx, pg, log)
		sessions = pg
	case config.SessionStorageRedis:
		sessions = shopifysession.NewRedisStore(rc.Client, shopifysession.WithTimeout(cfg.StoreTimeout))
	default:
		return errors.New("SESSION_STORAGE must be redis or postgres")
	}

	verifier, err := identity.NewVerifier(cfg.Identity)
	if err != nil {
		return err
	}

	storeOpts := []shop.StoreOption{shop.WithStoreTimeout(cfg.StoreTimeout), shop.WithStoreMetrics(collector)}
	svc := shop.NewService(
		shop.NewUserIndex(rc.Client, storeOpts...),
		shop.NewSessionPointers(rc.Client, storeOpts...),
		sessions,
		log,
		shop.WithMetrics(collector),
	)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Cfg:      cfg,
		Logger:   log,
		Redis:    rc.Client,
		Health:   rc,
		Shops:    svc,
		Sessions: sessions,
		Identity: verifier,
		Metrics:  collector,
		Gatherer: reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "session_storage", cfg.SessionStorage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func purgeExpired(ctx context.Context, pg *shopifysession.PostgresStore, log *slog.Logger) {
	t := time.NewTicker(15 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := pg.PurgeExpired(ctx)
			if err != nil {
				log.Warn("purge expired shopify sessions failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("purged expired shopify sessions", "count", n)
			}
		}
	}
}
