package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/shahidsiddiqui786/photoselect/archive"
	"github.com/shahidsiddiqui786/photoselect/cache"
	"github.com/shahidsiddiqui786/photoselect/config"
	"github.com/shahidsiddiqui786/photoselect/drive"
	"github.com/shahidsiddiqui786/photoselect/listing"
	"github.com/shahidsiddiqui786/photoselect/logging"
	"github.com/shahidsiddiqui786/photoselect/metrics"
	"github.com/shahidsiddiqui786/photoselect/ratelimit"
	"github.com/shahidsiddiqui786/photoselect/rotator"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Parse()

	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Production: cfg.IsProduction()})
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()

	var redisClient redis.UniversalClient
	if cfg.RateLimit.Provider == ratelimit.ProviderRedis {
		opts := &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		if cfg.Redis.URL != "" {
			parsed, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			opts = parsed
		}
		client := redis.NewClient(opts)
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", opts.Addr, err)
		}
		redisClient = client
	}

	a, closeApp := buildApp(cfg, logger, m, redisClient)
	defer closeApp()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "keys", a.keys.Size(), "rate_limit_provider", cfg.RateLimit.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildApp wires every service. The returned func stops background work.
func buildApp(cfg *config.Config, logger *slog.Logger, m *metrics.Registry, redisClient redis.UniversalClient) (*app, func()) {
	keys := rotator.New(cfg.Drive.APIKeys, cfg.Drive.KeyCooldown, rotator.WithEvents(m))

	client := drive.NewClient(drive.Options{
		BaseURL:        cfg.Drive.BaseURL,
		Timeout:        cfg.Drive.Timeout,
		PageSize:       cfg.Drive.PageSize,
		MaxObjectBytes: cfg.Drive.MaxObjectBytes,
		Logger:         logger.With("component", "drive"),
		Metrics:        m,
	})

	listingCache := cache.New[listing.CacheData](cache.Config{
		DefaultTTL:      cfg.Cache.DefaultTTL,
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, cache.WithMetrics[listing.CacheData](m.Cache("listing")))

	listings := listing.NewService(client, keys, listingCache, listing.Options{
		TTL:    cfg.Listing.TTL,
		Logger: logger.With("component", "listing"),
	})

	archiveLogger := logger.With("component", "archive")
	builder := archive.NewBuilder(client, keys, archive.Options{
		Concurrency: cfg.Archive.Concurrency,
		MaxObjects:  cfg.Archive.MaxObjects,
		Logger:      archiveLogger,
		Metrics:     m,
		OnProgress: func(p archive.Progress) {
			archiveLogger.Debug("archive progress",
				"job_id", p.JobID, "processed", p.Processed, "total", p.Total,
				"succeeded", p.Succeeded, "failed", p.Failed)
		},
	})

	newStore := func() ratelimit.Store { return ratelimit.NewMemoryStore() }
	if redisClient != nil {
		store := ratelimit.NewRedisStore(redisClient, cfg.Redis.Prefix)
		newStore = func() ratelimit.Store { return store }
	}
	limiters := ratelimit.NewRegistry(cfg.RateLimit.Rules, newStore,
		ratelimit.WithLogger(logger.With("component", "ratelimit")),
		ratelimit.WithMetrics(m))
	limiters.StartSweepers(cfg.RateLimit.SweepInterval, cfg.RateLimit.IdleGrace)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		listing:  listings,
		archive:  builder,
		prober:   client,
		keys:     keys,
		limiters: limiters,
		metrics:  m,
	}

	return a, func() {
		limiters.Close()
		listingCache.Close()
	}
}
