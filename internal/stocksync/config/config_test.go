package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !reflect.DeepEqual(cfg.Sources, []string{"ozon", "wildberries"}) {
		t.Fatalf("sources: %v", cfg.Sources)
	}
	if cfg.Ozon.BaseURL != "https://api-seller.ozon.ru" || cfg.Ozon.PageSize != 1000 {
		t.Fatalf("ozon defaults: %+v", cfg.Ozon)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxDelay != 30*time.Second {
		t.Fatalf("retry defaults: %+v", cfg.Retry)
	}
	if cfg.Sync.WorkerCount != 4 || cfg.Sync.RequestDelay != 200*time.Millisecond {
		t.Fatalf("sync defaults: %+v", cfg.Sync)
	}
	if cfg.Fallback.MaxAge != 24*time.Hour {
		t.Fatalf("fallback default: %+v", cfg.Fallback)
	}
	if cfg.Anomaly.ZeroStockRatio != 0.3 || cfg.Anomaly.StaleAfter != 6*time.Hour || cfg.Anomaly.APIErrorThreshold != 10 {
		t.Fatalf("anomaly defaults: %+v", cfg.Anomaly)
	}
	if cfg.Database.DSN != "" || cfg.Database.BatchSize != 1000 {
		t.Fatalf("db defaults: %+v", cfg.Database)
	}
	if cfg.Health.Addr != ":8080" || cfg.Metrics.Addr != "" {
		t.Fatalf("endpoint defaults: health=%q metrics=%q", cfg.Health.Addr, cfg.Metrics.Addr)
	}
	if cfg.Daemon.Enabled || cfg.Daemon.MinSleep != 5*time.Minute || cfg.Daemon.MaxSleep != 15*time.Minute {
		t.Fatalf("daemon defaults: %+v", cfg.Daemon)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STOCKSYNC_SOURCES", "ozon")
	t.Setenv("STOCKSYNC_OZON_CLIENT_ID", "client-9")
	t.Setenv("STOCKSYNC_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("STOCKSYNC_RETRY_BASE_DELAY_MS", "250")
	t.Setenv("STOCKSYNC_WORKER_COUNT", "8")
	t.Setenv("STOCKSYNC_DB_DSN", "postgres://localhost/stocks")
	t.Setenv("STOCKSYNC_DAEMON", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !reflect.DeepEqual(cfg.Sources, []string{"ozon"}) {
		t.Fatalf("sources: %v", cfg.Sources)
	}
	if cfg.Ozon.ClientID != "client-9" {
		t.Fatalf("client id: %q", cfg.Ozon.ClientID)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Fatalf("retry: %+v", cfg.Retry)
	}
	if cfg.Sync.WorkerCount != 8 {
		t.Fatalf("workers: %d", cfg.Sync.WorkerCount)
	}
	if cfg.Database.DSN != "postgres://localhost/stocks" {
		t.Fatalf("dsn: %q", cfg.Database.DSN)
	}
	if !cfg.Daemon.Enabled {
		t.Fatalf("daemon flag not picked up")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown source", "STOCKSYNC_SOURCES", "ozon,amazon"},
		{"no sources", "STOCKSYNC_SOURCES", " , "},
		{"zero attempts", "STOCKSYNC_RETRY_MAX_ATTEMPTS", "0"},
		{"sub-linear backoff", "STOCKSYNC_RETRY_EXPONENTIAL_BASE", "0.5"},
		{"zero workers", "STOCKSYNC_WORKER_COUNT", "0"},
		{"zero batch", "STOCKSYNC_DB_BATCH_SIZE", "0"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Setenv(c.key, c.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoad_DaemonSleepOrdering(t *testing.T) {
	t.Setenv("STOCKSYNC_DAEMON_MIN_SLEEP_SEC", "600")
	t.Setenv("STOCKSYNC_DAEMON_MAX_SLEEP_SEC", "300")
	if _, err := Load(); err == nil {
		t.Fatalf("max sleep below min sleep must be rejected")
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" Ozon , WILDBERRIES ,, ")
	want := []string{"ozon", "wildberries"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
