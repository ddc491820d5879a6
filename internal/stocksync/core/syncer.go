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

package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stocksync/internal/stocksync/telemetry"
)

// Feed is one marketplace stock source. Implementations live in the
// marketplace package; tests substitute scripted feeds.
type Feed interface {
	Source() Source
	// FetchStocks returns the full item set for one run. Pagination, retry,
	// and inter-request pacing are the implementation's concern.
	FetchStocks(ctx context.Context) ([]StockItem, error)
	// TakeAPIStats drains the request and failure counters accumulated since
	// the previous call.
	TakeAPIStats() (requests, errors int)
}

// SessionLog persists one row per finished run.
type SessionLog interface {
	InsertSyncSession(ctx context.Context, s SyncSession) error
}

// SyncStateStore keeps the small cross-run state: per-source last-success
// timestamps and the trailing API error window the anomaly detector reads.
type SyncStateStore interface {
	LastSuccess(ctx context.Context, source Source) (time.Time, error)
	SetLastSuccess(ctx context.Context, source Source, t time.Time) error
	AddAPIErrors(ctx context.Context, source Source, n int) error
	APIErrorCount(ctx context.Context, source Source) (int, error)
}

// Syncer runs the per-source pipeline: identity load, fetch, process,
// validate, detect, replace-write, finalize. Runs for different sources are
// independent; the caller serializes runs of the same source.
type Syncer struct {
	Directory IdentitySource
	Store     SnapshotStore
	Sessions  SessionLog
	State     SyncStateStore
	Tracker   *Tracker
	Processor *Processor
	Validator *Validator
	Detector  *Detector
	Fallback  *FallbackManager
	Log       *slog.Logger
}

// Run executes one sync for feed's source dated date. It never returns an
// error: every failure mode ends as a finalized session with a definitive
// status, so the caller decides whether to alert or simply run again later.
func (s *Syncer) Run(ctx context.Context, feed Feed, date time.Time) SyncSession {
	source := feed.Source()
	log := s.logger().With("source", source)
	run := s.Tracker.Start(source, "stocks")
	start := time.Now()

	log.Info("sync started", "session", run.ID(), "date", date.Format("2006-01-02"))

	finish := func(status SyncStatus, processed, inserted, failed int, runErr error) SyncSession {
		final := run.Finish(status, processed, inserted, failed, runErr)
		s.logSession(ctx, log, final)
		telemetry.ObserveRun(string(source), string(status), time.Since(start))
		return final
	}

	// Identity cache. A directory failure aborts before any API call.
	t0 := time.Now()
	cache, err := LoadIdentityCache(ctx, s.Directory, log)
	if err != nil {
		run.RecordStage("identity", 0, 0, time.Since(t0))
		log.Error("identity load failed", "error", err)
		return finish(StatusFailed, 0, 0, 0, err)
	}
	sku, mkt, bar := cache.Size()
	run.RecordStage("identity", sku+mkt+bar, sku+mkt+bar, time.Since(t0))

	// Fetch. Every physical attempt counts toward the session, and failures
	// feed the trailing error window.
	t0 = time.Now()
	items, fetchErr := feed.FetchStocks(ctx)
	requests, apiErrors := feed.TakeAPIStats()
	run.AddAPIRequests(requests)
	if s.State != nil && apiErrors > 0 {
		if err := s.State.AddAPIErrors(ctx, source, apiErrors); err != nil {
			log.Warn("api error window update failed", "error", err)
		}
	}
	run.RecordStage("fetch", requests, len(items), time.Since(t0))

	if fetchErr != nil {
		return s.failedFetch(ctx, log, run, finish, source, date, fetchErr)
	}

	// Process.
	t0 = time.Now()
	proc := s.Processor.Process(items, source, cache, date)
	run.RecordStage("process", len(items), len(items)-proc.Failed, time.Since(t0))
	if proc.Failed > 0 {
		telemetry.RecordFailures(string(source), "identity_unresolved", proc.Failed)
	}
	if proc.AvailableMismatches > 0 {
		telemetry.AvailableMismatches(string(source), proc.AvailableMismatches)
		log.Warn("api-reported available disagrees with computed",
			"count", proc.AvailableMismatches)
	}

	// Validate.
	t0 = time.Now()
	vres := s.Validator.Validate(proc.Records, source)
	run.RecordStage("validate", len(proc.Records), len(vres.Kept), time.Since(t0))
	if vres.Excluded > 0 {
		telemetry.RecordFailures(string(source), "validation", vres.Excluded)
	}
	for _, issue := range vres.Issues {
		if issue.Severity == SeverityError {
			log.Warn("record excluded",
				"record", issue.RecordID,
				"field", issue.Field,
				"reason", issue.Message)
		}
	}

	// Detect. History and cross-run state are best-effort inputs; their
	// absence degrades the checks, never the run.
	s.detect(ctx, log, run, source, date, vres.Kept, BatchStats{
		DuplicateKeys:  vres.DuplicateKeys,
		NegativeInputs: proc.NegativeInputs,
	})

	// Replace-write.
	t0 = time.Now()
	inserted, failedBatches, err := s.Store.ReplaceSnapshot(ctx, source, date, vres.Kept)
	run.RecordStage("write", len(vres.Kept), inserted, time.Since(t0))
	if err != nil {
		log.Error("snapshot write failed", "error", err)
		return finish(StatusFailed, len(items), 0, proc.Failed+vres.Excluded, err)
	}
	telemetry.RecordsProcessed(string(source), inserted)

	failed := proc.Failed + vres.Excluded + (len(vres.Kept) - inserted)
	if lost := len(vres.Kept) - inserted; lost > 0 {
		telemetry.RecordFailures(string(source), "insert_batch", lost)
		log.Warn("insert batches lost rows", "failed_batches", failedBatches, "lost", lost)
	}

	status := StatusSuccess
	if failed > 0 {
		status = StatusPartial
	}
	if s.State != nil {
		if err := s.State.SetLastSuccess(ctx, source, time.Now()); err != nil {
			log.Warn("last-success update failed", "error", err)
		}
	}
	telemetry.SetLastSync(string(source), time.Now())
	return finish(status, len(items), inserted, failed, nil)
}

// failedFetch decides between hard failure and serving cached data. Fallback
// is attempted exactly once, only for retryable failures that spent their
// budget; fatal API errors (auth, other 4xx) fail immediately.
func (s *Syncer) failedFetch(
	ctx context.Context,
	log *slog.Logger,
	run *RunSession,
	finish func(SyncStatus, int, int, int, error) SyncSession,
	source Source,
	date time.Time,
	fetchErr error,
) SyncSession {
	var ex interface{ Exhausted() bool }
	if !errors.As(fetchErr, &ex) || !ex.Exhausted() {
		log.Error("fetch failed", "error", fetchErr)
		return finish(StatusFailed, 0, 0, 0, fetchErr)
	}

	log.Warn("fetch exhausted retries, trying cached snapshot", "error", fetchErr)
	t0 := time.Now()
	fb, fbErr := s.Fallback.UseCachedData(ctx, source, date)
	run.RecordStage("fallback", fb.CopiedRecords, fb.CopiedRecords, time.Since(t0))
	telemetry.FallbackOutcome(string(source), string(fb.Status))
	if fbErr != nil {
		log.Error("fallback failed", "error", fbErr)
		return finish(StatusFailed, 0, 0, 0, fetchErr)
	}
	if fb.Status != FallbackApplied {
		return finish(StatusFailed, 0, 0, 0, fetchErr)
	}
	return finish(StatusFallback, fb.CopiedRecords, fb.CopiedRecords, 0, fetchErr)
}

// detect gathers the detector's inputs, runs it, and fans the findings out to
// the session, the log, and telemetry.
func (s *Syncer) detect(ctx context.Context, log *slog.Logger, run *RunSession, source Source, date time.Time, records []StockRecord, stats BatchStats) {
	history, err := s.Store.LatestSnapshot(ctx, source, date)
	if err != nil {
		log.Warn("history load failed, change checks skipped", "error", err)
		history = nil
	}
	if s.State != nil {
		if t, err := s.State.LastSuccess(ctx, source); err == nil {
			stats.LastSuccessAt = t
		}
		if n, err := s.State.APIErrorCount(ctx, source); err == nil {
			stats.APIErrors = n
		}
	}

	anomalies := s.Detector.Detect(records, source, history, stats)
	run.AddAnomalies(anomalies)
	for _, a := range anomalies {
		telemetry.AnomalyDetected(string(source), string(a.Type))
		log.Warn("anomaly detected",
			"type", a.Type,
			"severity", a.Severity,
			"affected", a.AffectedCount,
			"description", a.Description)
	}
}

// logSession appends the finished session to the persistent log. The write
// is best-effort: a log failure never changes a run's outcome.
func (s *Syncer) logSession(ctx context.Context, log *slog.Logger, final SyncSession) {
	if s.Sessions != nil {
		if err := s.Sessions.InsertSyncSession(ctx, final); err != nil {
			log.Warn("session log write failed", "error", err)
		}
	}
	log.Info("sync finished",
		"session", final.ID,
		"status", final.Status,
		"processed", final.Processed,
		"inserted", final.Inserted,
		"failed", final.Failed,
		"api_requests", final.APIRequests,
		"duration", final.CompletedAt.Sub(final.StartedAt).Round(time.Millisecond))
}

func (s *Syncer) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
