// Daemon entry point: loads configuration, wires the store, channel, and
// orchestrator, and serves metrics and health endpoints until a signal
// arrives.
//
// Usage:
//
//	parleyd --config parley.yaml
//	parleyd version
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/parley/channel"
	"github.com/BaSui01/parley/config"
	"github.com/BaSui01/parley/internal/metrics"
	"github.com/BaSui01/parley/internal/telemetry"
	"github.com/BaSui01/parley/orchestrator"
	"github.com/BaSui01/parley/persistence"
	"github.com/BaSui01/parley/responder"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("parleyd %s (%s)\n", Version, GitCommit)
		return
	}

	configPath := flag.String("config", "parley.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("daemon exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	chn, err := buildChannel(cfg, logger)
	if err != nil {
		return fmt.Errorf("build channel: %w", err)
	}
	defer chn.Close()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer store.Close()

	registry := responder.NewRegistry(logger)
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	orch := orchestrator.New(cfg.Scheduler, orchestrator.Deps{
		Store:    store,
		Channel:  chn,
		Registry: registry,
		Metrics:  collector,
		Logger:   logger,
	})
	defer orch.Close()

	logger.Info("parley daemon started",
		zap.String("version", Version),
		zap.String("channel_backend", cfg.Channel.Backend),
		zap.String("store_backend", cfg.Store.Backend))

	if cfg.Server.MetricsPort > 0 {
		srv := operationalServer(cfg.Server.MetricsPort, promRegistry, orch, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("operational server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("operational server shutdown", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

func buildChannel(cfg *config.Config, logger *zap.Logger) (channel.Channel, error) {
	switch cfg.Channel.Backend {
	case "redis":
		return channel.NewRedisChannel(channel.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxLen:       cfg.Channel.MaxLen,
			PollInterval: cfg.Channel.PollInterval,
		}, logger)
	default:
		return channel.NewMemoryChannel(channel.MemoryConfig{MaxLen: cfg.Channel.MaxLen}, logger), nil
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence.Store, error) {
	switch cfg.Store.Backend {
	case "database":
		return persistence.NewGormStore(cfg.Store.Database, logger)
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return persistence.NewMongoStore(connectCtx, cfg.Store.Mongo, logger)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return persistence.NewRedisStore(client, logger), nil
	default:
		return persistence.NewMemoryStore(), nil
	}
}

func operationalServer(port int, gatherer prometheus.Gatherer, orch *orchestrator.Orchestrator, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := orch.Health(r.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
