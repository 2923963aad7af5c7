package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/hubclient"
	"github.com/your-org/sentinel/internal/intel"
	"github.com/your-org/sentinel/internal/notify"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/retry"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting sentinel intel engine", "interval", cfg.Intel.RunInterval.String())

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	publisher, err := notify.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	if err := publisher.EnsureStream(context.Background()); err != nil {
		slog.Warn("ensure nats stream", "error", err)
	}

	hubAPI := hubclient.New(cfg.Hub, retry.Default())
	lease := intel.NewLease(rdb, cfg.Intel.LockKey, cfg.Intel.LockTTL)
	engine := intel.NewEngine(cfg.Intel, hubAPI, lease, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(ctx)
	}()

	// Metrics endpoint
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Intel.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		slog.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down intel engine...")
	cancel()
	<-done
	_ = metricsSrv.Close()

	slog.Info("intel engine stopped")
}
