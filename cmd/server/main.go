package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aryangodara/dalil/api"
	"github.com/aryangodara/dalil/config"
	"github.com/aryangodara/dalil/listings"
	"github.com/aryangodara/dalil/logger"
	"github.com/aryangodara/dalil/metrics"
	"github.com/aryangodara/dalil/rate_limiting_strategies"
	"github.com/aryangodara/dalil/storage"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml (default: ./config.yaml or ./config/config.yaml)")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "dalil: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, closeStore, err := newRateLimitStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	db, err := storage.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	service := listings.NewService(listings.NewPostgresRepository(db),
		listings.WithLogger(log.Named("listings")),
		listings.WithMetrics(m),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:    service,
		Limiter:    rate_limiting_strategies.NewSlidingWindowLimiter(store, time.Now),
		RateLimits: cfg.RateLimit,
		AdminToken: cfg.Admin.Token,
		Logger:     log.Named("http"),
		Metrics:    m,
		Gatherer:   reg,
	})
	if cfg.Admin.Token == "" {
		log.Warn("admin_token_not_configured")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sweeper := rate_limiting_strategies.NewSweeper(store,
		rate_limiting_strategies.WithLogger(log.Named("ratelimit")),
		rate_limiting_strategies.WithInterval(cfg.RateLimit.SweepInterval),
		rate_limiting_strategies.WithMetrics(m),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("http_server_starting",
			zap.String("addr", cfg.Server.Addr),
			zap.String("ratelimit_store", cfg.RateLimit.Store),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("http_server_stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server_stopped_with_error", zap.Error(err))
		return err
	}

	log.Info("server_stopped")
	return nil
}

// newRateLimitStore returns the configured store and a func releasing it.
func newRateLimitStore(ctx context.Context, cfg *config.Config) (rate_limiting_strategies.Store, func(), error) {
	if cfg.RateLimit.Store != config.StoreRedis {
		return rate_limiting_strategies.NewMemoryStore(), func() {}, nil
	}

	client, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	store := rate_limiting_strategies.NewRedisStore(client, cfg.RateLimit.KeyPrefix, time.Now)
	return store, func() { _ = client.Close() }, nil
}
