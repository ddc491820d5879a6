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

// Package config loads the typed engine configuration from the environment.
// Every recognized knob has a named field and an explicit default; unknown
// environment variables are ignored rather than collected into a free-form
// map.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Sources     []string
	Ozon        OzonConfig
	Wildberries WildberriesConfig
	Retry       RetryConfig
	Sync        SyncConfig
	Fallback    FallbackConfig
	Anomaly     AnomalyConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Health      HealthConfig
	Metrics     MetricsConfig
	Daemon      DaemonConfig
}

type OzonConfig struct {
	BaseURL  string
	ClientID string
	APIKey   string
	PageSize int
}

type WildberriesConfig struct {
	BaseURL string
	APIKey  string
}

// RetryConfig controls the retrying API client.
type RetryConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	JitterFraction  float64
	RequestTimeout  time.Duration
}

// SyncConfig controls the per-run pipeline.
type SyncConfig struct {
	WorkerCount  int
	RequestDelay time.Duration // pause between successive page fetches
	UpperBound   int           // quantities above this draw a WARNING
}

type FallbackConfig struct {
	MaxAge time.Duration
}

// AnomalyConfig carries the thresholds of the batch data-quality checks.
type AnomalyConfig struct {
	ZeroStockRatio      float64
	ChangeThreshold     float64
	ChangedProductsMin  int
	MissingProductsMax  int
	StaleAfter          time.Duration
	APIErrorThreshold   int
	APIErrorWindow      time.Duration
}

type DatabaseConfig struct {
	DSN       string
	Schema    string
	BatchSize int
	MaxConns  int
}

type RedisConfig struct {
	Addr string // empty selects the in-memory sync-state store
}

type HealthConfig struct {
	Addr string
}

type MetricsConfig struct {
	Addr string // empty disables the Prometheus endpoint
}

type DaemonConfig struct {
	Enabled  bool
	MinSleep time.Duration
	MaxSleep time.Duration
}

// Load reads configuration from the environment (STOCKSYNC_* variables).
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("stocksync_sources", "ozon,wildberries")
	v.SetDefault("stocksync_ozon_base_url", "https://api-seller.ozon.ru")
	v.SetDefault("stocksync_ozon_client_id", "")
	v.SetDefault("stocksync_ozon_api_key", "")
	v.SetDefault("stocksync_ozon_page_size", 1000)
	v.SetDefault("stocksync_wb_base_url", "https://suppliers-api.wildberries.ru")
	v.SetDefault("stocksync_wb_api_key", "")

	v.SetDefault("stocksync_retry_max_attempts", 3)
	v.SetDefault("stocksync_retry_base_delay_ms", 1000)
	v.SetDefault("stocksync_retry_max_delay_ms", 30000)
	v.SetDefault("stocksync_retry_exponential_base", 2.0)
	v.SetDefault("stocksync_retry_jitter", 0.2)
	v.SetDefault("stocksync_request_timeout_ms", 30000)

	v.SetDefault("stocksync_worker_count", 4)
	v.SetDefault("stocksync_request_delay_ms", 200)
	v.SetDefault("stocksync_quantity_upper_bound", 1000000)

	v.SetDefault("stocksync_fallback_max_age_hours", 24)

	v.SetDefault("stocksync_anomaly_zero_stock_ratio", 0.3)
	v.SetDefault("stocksync_anomaly_change_threshold", 0.5)
	v.SetDefault("stocksync_anomaly_changed_products_min", 5)
	v.SetDefault("stocksync_anomaly_missing_products_max", 10)
	v.SetDefault("stocksync_anomaly_stale_after_hours", 6)
	v.SetDefault("stocksync_anomaly_api_error_threshold", 10)
	v.SetDefault("stocksync_anomaly_api_error_window_minutes", 60)

	v.SetDefault("stocksync_db_dsn", "")
	v.SetDefault("stocksync_db_schema", "public")
	v.SetDefault("stocksync_db_batch_size", 1000)
	v.SetDefault("stocksync_db_max_conns", 4)

	v.SetDefault("stocksync_redis_addr", "")

	v.SetDefault("stocksync_health_addr", ":8080")
	v.SetDefault("stocksync_metrics_addr", "")

	v.SetDefault("stocksync_daemon", false)
	v.SetDefault("stocksync_daemon_min_sleep_sec", 300)
	v.SetDefault("stocksync_daemon_max_sleep_sec", 900)

	cfg := Config{
		Sources: splitCSV(v.GetString("stocksync_sources")),
		Ozon: OzonConfig{
			BaseURL:  v.GetString("stocksync_ozon_base_url"),
			ClientID: v.GetString("stocksync_ozon_client_id"),
			APIKey:   v.GetString("stocksync_ozon_api_key"),
			PageSize: v.GetInt("stocksync_ozon_page_size"),
		},
		Wildberries: WildberriesConfig{
			BaseURL: v.GetString("stocksync_wb_base_url"),
			APIKey:  v.GetString("stocksync_wb_api_key"),
		},
		Retry: RetryConfig{
			MaxAttempts:     v.GetInt("stocksync_retry_max_attempts"),
			BaseDelay:       time.Duration(v.GetInt("stocksync_retry_base_delay_ms")) * time.Millisecond,
			MaxDelay:        time.Duration(v.GetInt("stocksync_retry_max_delay_ms")) * time.Millisecond,
			ExponentialBase: v.GetFloat64("stocksync_retry_exponential_base"),
			JitterFraction:  v.GetFloat64("stocksync_retry_jitter"),
			RequestTimeout:  time.Duration(v.GetInt("stocksync_request_timeout_ms")) * time.Millisecond,
		},
		Sync: SyncConfig{
			WorkerCount:  v.GetInt("stocksync_worker_count"),
			RequestDelay: time.Duration(v.GetInt("stocksync_request_delay_ms")) * time.Millisecond,
			UpperBound:   v.GetInt("stocksync_quantity_upper_bound"),
		},
		Fallback: FallbackConfig{
			MaxAge: time.Duration(v.GetInt("stocksync_fallback_max_age_hours")) * time.Hour,
		},
		Anomaly: AnomalyConfig{
			ZeroStockRatio:     v.GetFloat64("stocksync_anomaly_zero_stock_ratio"),
			ChangeThreshold:    v.GetFloat64("stocksync_anomaly_change_threshold"),
			ChangedProductsMin: v.GetInt("stocksync_anomaly_changed_products_min"),
			MissingProductsMax: v.GetInt("stocksync_anomaly_missing_products_max"),
			StaleAfter:         time.Duration(v.GetInt("stocksync_anomaly_stale_after_hours")) * time.Hour,
			APIErrorThreshold:  v.GetInt("stocksync_anomaly_api_error_threshold"),
			APIErrorWindow:     time.Duration(v.GetInt("stocksync_anomaly_api_error_window_minutes")) * time.Minute,
		},
		Database: DatabaseConfig{
			DSN:       v.GetString("stocksync_db_dsn"),
			Schema:    v.GetString("stocksync_db_schema"),
			BatchSize: v.GetInt("stocksync_db_batch_size"),
			MaxConns:  v.GetInt("stocksync_db_max_conns"),
		},
		Redis: RedisConfig{
			Addr: v.GetString("stocksync_redis_addr"),
		},
		Health: HealthConfig{
			Addr: v.GetString("stocksync_health_addr"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("stocksync_metrics_addr"),
		},
		Daemon: DaemonConfig{
			Enabled:  v.GetBool("stocksync_daemon"),
			MinSleep: time.Duration(v.GetInt("stocksync_daemon_min_sleep_sec")) * time.Second,
			MaxSleep: time.Duration(v.GetInt("stocksync_daemon_max_sleep_sec")) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	for _, s := range c.Sources {
		switch s {
		case "ozon", "wildberries":
		default:
			return fmt.Errorf("unknown source %q", s)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.ExponentialBase < 1 {
		return fmt.Errorf("retry exponential base must be >= 1, got %v", c.Retry.ExponentialBase)
	}
	if c.Sync.WorkerCount < 1 {
		return fmt.Errorf("worker count must be >= 1, got %d", c.Sync.WorkerCount)
	}
	if c.Database.BatchSize < 1 {
		return fmt.Errorf("db batch size must be >= 1, got %d", c.Database.BatchSize)
	}
	if c.Daemon.MaxSleep < c.Daemon.MinSleep {
		return fmt.Errorf("daemon max sleep %v is below min sleep %v", c.Daemon.MaxSleep, c.Daemon.MinSleep)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(strings.ToLower(p)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
