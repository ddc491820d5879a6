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
	"log/slog"
	"time"
)

// SnapshotStore is the persistence surface the engine needs for stock
// snapshots. The Postgres implementation lives in the persistence package;
// tests substitute an in-memory one.
type SnapshotStore interface {
	// ReplaceSnapshot atomically swaps the (source, date) slice for records.
	// It returns the rows inserted and the count of insert batches that
	// failed; a failed batch loses only its own rows.
	ReplaceSnapshot(ctx context.Context, source Source, date time.Time, records []StockRecord) (inserted, failedBatches int, err error)

	// LatestSnapshot returns the newest persisted slice for source dated
	// strictly before the given date, or nil when none exists.
	LatestSnapshot(ctx context.Context, source Source, before time.Time) (*CachedSnapshot, error)
}

// FallbackManager re-persists the last good snapshot under the current date
// when a run cannot obtain fresh data. It is invoked at most once per run.
type FallbackManager struct {
	store  SnapshotStore
	maxAge time.Duration
	log    *slog.Logger
	now    func() time.Time
}

func NewFallbackManager(store SnapshotStore, maxAge time.Duration, log *slog.Logger) *FallbackManager {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &FallbackManager{store: store, maxAge: maxAge, log: log, now: time.Now}
}

// UseCachedData copies the newest prior snapshot of source forward to date.
// The copy fails, without error, when no snapshot exists or the newest one
// is older than the configured maximum age; a stale copy is worse than an
// honest gap. Store errors are returned as errors.
func (m *FallbackManager) UseCachedData(ctx context.Context, source Source, date time.Time) (FallbackResult, error) {
	snap, err := m.store.LatestSnapshot(ctx, source, date)
	if err != nil {
		return FallbackResult{Status: FallbackFailed}, err
	}
	if snap == nil || len(snap.Records) == 0 {
		m.log.Warn("fallback: no prior snapshot", "source", source)
		return FallbackResult{Status: FallbackFailed}, nil
	}

	age := m.now().Sub(snap.LastSyncAt)
	if age > m.maxAge {
		m.log.Warn("fallback: snapshot too old",
			"source", source,
			"age", age.Round(time.Minute),
			"max_age", m.maxAge)
		return FallbackResult{Status: FallbackFailed, SnapshotAge: age}, nil
	}

	records := make([]StockRecord, len(snap.Records))
	copy(records, snap.Records)
	for i := range records {
		records[i].SnapshotDate = date
	}

	inserted, failedBatches, err := m.store.ReplaceSnapshot(ctx, source, date, records)
	if err != nil {
		return FallbackResult{Status: FallbackFailed, SnapshotAge: age}, err
	}
	if failedBatches > 0 {
		m.log.Warn("fallback: partial copy", "source", source, "failed_batches", failedBatches)
	}

	m.log.Info("fallback applied",
		"source", source,
		"copied", inserted,
		"snapshot_age", age.Round(time.Minute))
	return FallbackResult{
		Status:        FallbackApplied,
		CopiedRecords: inserted,
		SnapshotAge:   age,
	}, nil
}
