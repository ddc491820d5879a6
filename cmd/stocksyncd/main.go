// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command stocksyncd runs the inventory synchronization engine: one-shot by
// default, daemonized with a jittered inter-run sleep when configured. It
// serves the health endpoint for the duration of the process and an optional
// Prometheus /metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stocksync/internal/stocksync/config"
	"stocksync/internal/stocksync/core"
	"stocksync/internal/stocksync/health"
	"stocksync/internal/stocksync/marketplace"
	"stocksync/internal/stocksync/persistence"
	"stocksync/internal/stocksync/telemetry"
)

func main() {
	var (
		envFile = flag.String("env", "", "optional .env file to load before reading configuration")
		daemon  = flag.Bool("daemon", false, "run continuously with a jittered sleep between cycles")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	if *daemon {
		cfg.Daemon.Enabled = true
	}

	if err := run(cfg, log); err != nil {
		log.Error("stocksyncd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := persistence.BuildStores(ctx, persistence.StoreOptions{
		DSN:         cfg.Database.DSN,
		BatchSize:   cfg.Database.BatchSize,
		MaxConns:    cfg.Database.MaxConns,
		RedisAddr:   cfg.Redis.Addr,
		ErrorWindow: cfg.Anomaly.APIErrorWindow,
	})
	if err != nil {
		return err
	}
	defer stores.Close()

	if stores.DB != nil {
		if err := persistence.Migrate(stores.DB); err != nil {
			return err
		}
	}

	feeds, err := buildFeeds(cfg, log)
	if err != nil {
		return err
	}

	tracker := core.NewTracker(50)
	syncer := &core.Syncer{
		Directory: stores.Directory,
		Store:     stores.Snapshots,
		Sessions:  stores.Sessions,
		State:     stores.State,
		Tracker:   tracker,
		Processor: core.NewProcessor(cfg.Sync.WorkerCount, log),
		Validator: core.NewValidator(cfg.Sync.UpperBound),
		Detector: core.NewDetector(core.AnomalySettings{
			ZeroStockRatio:     cfg.Anomaly.ZeroStockRatio,
			ChangeThreshold:    cfg.Anomaly.ChangeThreshold,
			ChangedProductsMin: cfg.Anomaly.ChangedProductsMin,
			MissingProductsMax: cfg.Anomaly.MissingProductsMax,
			StaleAfter:         cfg.Anomaly.StaleAfter,
			APIErrorThreshold:  cfg.Anomaly.APIErrorThreshold,
		}),
		Fallback: core.NewFallbackManager(stores.Snapshots, cfg.Fallback.MaxAge, log),
		Log:      log,
	}

	// Monitoring surface stays up for the whole process.
	mux := http.NewServeMux()
	health.NewServer(tracker).RegisterRoutes(mux)
	healthSrv := &http.Server{Addr: cfg.Health.Addr, Handler: mux}
	go func() {
		log.Info("health endpoint listening", "addr", cfg.Health.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health endpoint failed", "error", err)
		}
	}()
	defer shutdownServer(healthSrv, log)

	if cfg.Metrics.Addr != "" {
		metricsSrv := telemetry.ServeMetrics(cfg.Metrics.Addr, log)
		log.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
		defer shutdownServer(metricsSrv, log)
	}

	for {
		runCycle(ctx, syncer, feeds, log)

		if !cfg.Daemon.Enabled || ctx.Err() != nil {
			return nil
		}
		sleep := cycleSleep(cfg.Daemon.MinSleep, cfg.Daemon.MaxSleep)
		log.Info("cycle complete, sleeping", "duration", sleep.Round(time.Second))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// runCycle syncs every configured source concurrently. Sources are
// independent: one failing or falling back never cancels another.
func runCycle(ctx context.Context, syncer *core.Syncer, feeds []core.Feed, log *slog.Logger) {
	date := time.Now()
	var wg sync.WaitGroup
	for _, feed := range feeds {
		wg.Add(1)
		go func(feed core.Feed) {
			defer wg.Done()
			syncer.Run(ctx, feed, date)
		}(feed)
	}
	wg.Wait()
	log.Info("all sources finished", "date", date.Format("2006-01-02"))
}

func buildFeeds(cfg config.Config, log *slog.Logger) ([]core.Feed, error) {
	policy := marketplace.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		BaseDelay:       cfg.Retry.BaseDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		ExponentialBase: cfg.Retry.ExponentialBase,
		JitterFraction:  cfg.Retry.JitterFraction,
	}
	httpClient := func() *http.Client {
		return &http.Client{Timeout: cfg.Retry.RequestTimeout}
	}
	observer := func(source string) marketplace.AttemptObserver {
		return func(a marketplace.Attempt) {
			telemetry.APIRequest(source, a.StatusCode)
		}
	}

	var feeds []core.Feed
	for _, s := range cfg.Sources {
		switch core.Source(s) {
		case core.SourceOzon:
			client := marketplace.NewClient(httpClient(), policy, log, observer(s))
			feeds = append(feeds, marketplace.NewOzonFeed(client, marketplace.OzonFeedOptions{
				BaseURL:   cfg.Ozon.BaseURL,
				ClientID:  cfg.Ozon.ClientID,
				APIKey:    cfg.Ozon.APIKey,
				PageSize:  cfg.Ozon.PageSize,
				PageDelay: cfg.Sync.RequestDelay,
			}))
		case core.SourceWildberries:
			client := marketplace.NewClient(httpClient(), policy, log, observer(s))
			feeds = append(feeds, marketplace.NewWildberriesFeed(client, cfg.Wildberries.BaseURL, cfg.Wildberries.APIKey))
		default:
			return nil, fmt.Errorf("unknown source %q", s)
		}
	}
	return feeds, nil
}

// cycleSleep spreads daemon cycles between min and max so multiple deployed
// instances do not thunder against the marketplace APIs in lockstep.
func cycleSleep(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func shutdownServer(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
}
