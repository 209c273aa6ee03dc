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
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	moderate "github.com/anatolykoptev/go-moderate"
	"github.com/anatolykoptev/go-moderate/internal/config"
	"github.com/anatolykoptev/go-moderate/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("MODERATE_CONFIG"), "path to YAML config (empty = defaults)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("moderationd: exiting", "error", err.Error())
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	modCfg, cleanup, err := buildModerator(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer cleanup()
	mod := moderate.New(modCfg)

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.NewHandler(mod, server.Options{
		BatchConcurrency: cfg.Moderation.BatchConcurrency,
		MaxBatchItems:    cfg.Moderation.MaxBatchItems,
		Gatherer:         reg,
	}))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("moderationd: listening", "addr", srv.Addr, "provider", mod.Status(ctx).ProviderMode,
			"cache", cfg.Cache.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("moderationd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var h slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if cfg.Log.Format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// buildModerator wires the pipeline dependencies from cfg. The returned
// cleanup releases external connections.
func buildModerator(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (moderate.Config, func(), error) {
	cleanup := func() {}
	httpClient := &http.Client{Timeout: cfg.Moderation.FetchTimeout + cfg.Moderation.ProviderTimeout}

	thresholds := moderate.NewThresholdRegistry(moderate.DefaultThresholds)
	if _, err := thresholds.Update(cfg.Thresholds); err != nil {
		return moderate.Config{}, cleanup, err
	}

	modCfg := moderate.Config{
		HTTPClient:        httpClient,
		FetchTimeout:      cfg.Moderation.FetchTimeout,
		ProviderTimeout:   cfg.Moderation.ProviderTimeout,
		Thresholds:        thresholds,
		Monitor:           moderate.NewMonitor(reg),
		HashIndex:         moderate.NewHashIndex(),
		ExtraStockDomains: cfg.Moderation.StockDomains,
		BannedKeywords:    cfg.Moderation.BannedKeywords,
		SpamKeywords:      cfg.Moderation.SpamKeywords,
		OnPanic: func(tag string, r any) {
			slog.Error("moderationd: analyzer panic", "tag", tag, "panic", r)
		},
	}

	if p := moderate.NewSightengineProvider(cfg.Sightengine.APIUser, cfg.Sightengine.APISecret, httpClient); p != nil {
		p.Endpoint = cfg.Sightengine.Endpoint
		modCfg.Provider = p
	} else {
		slog.Warn("moderationd: no NSFW provider credentials, using heuristic mode")
	}

	if dir := cfg.Moderation.KnownImagesDir; dir != "" {
		n, err := modCfg.HashIndex.AddDir(dir)
		if err != nil {
			return moderate.Config{}, cleanup, err
		}
		slog.Info("moderationd: hash index loaded", "dir", dir, "images", n)
	}

	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return moderate.Config{}, cleanup, fmt.Errorf("redis %s: %w", cfg.Cache.Redis.Addr, err)
		}
		modCfg.Cache = moderate.NewRedisCache(client, cfg.Cache.Redis.Prefix, cfg.Cache.TTL)
		cleanup = func() { _ = client.Close() }
	default:
		modCfg.Cache = moderate.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	}

	return modCfg, cleanup, nil
}
