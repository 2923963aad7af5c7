package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/sentinel/internal/collector"
	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/facematch"
	"github.com/your-org/sentinel/internal/hubclient"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/retry"
	"github.com/your-org/sentinel/internal/source"
	"github.com/your-org/sentinel/internal/storage"
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

	if len(cfg.Collector.Sites) == 0 {
		slog.Error("no sites configured")
		os.Exit(1)
	}
	slog.Info("starting sentinel collector", "sites", len(cfg.Collector.Sites))

	images, err := storage.NewImageStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := images.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	policy := retry.Default()
	hubAPI := hubclient.New(cfg.Hub, policy)
	matcher := facematch.NewMatcher(facematch.NewRecognitionClient(cfg.Matcher, policy), cfg.Matcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	sites := make(map[string]collector.SourceAPI, len(cfg.Collector.Sites))
	for _, site := range cfg.Collector.Sites {
		adapter := source.NewClient(site.ID, site.APIBase, cfg.Source, policy)
		sites[site.ID] = adapter

		poller := collector.NewPoller(site, cfg.Collector, adapter, hubAPI, matcher, images)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
		slog.Info("site poller started", "site", site.ID, "name", site.Name)
	}

	sweeper := collector.NewSweeper(cfg.Collector, hubAPI, matcher, images, sites, images.Get)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// Metrics endpoint
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Collector.MetricsPort),
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

	slog.Info("shutting down collector...")
	cancel()
	wg.Wait()
	_ = metricsSrv.Close()

	slog.Info("collector stopped")
}
