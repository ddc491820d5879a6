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

package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"stocksync/internal/stocksync/core"
)

// MemorySnapshotStore keeps snapshots in process memory. It backs local
// development without a database and the end-to-end tests; semantics mirror
// the Postgres store (replace per slice, latest strictly before a date).
type MemorySnapshotStore struct {
	mu     sync.Mutex
	slices map[core.Source]map[string]memorySlice
	now    func() time.Time
}

type memorySlice struct {
	lastSyncAt time.Time
	records    []core.StockRecord
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		slices: make(map[core.Source]map[string]memorySlice),
		now:    time.Now,
	}
}

func (m *MemorySnapshotStore) ReplaceSnapshot(_ context.Context, source core.Source, date time.Time, records []core.StockRecord) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDate, ok := m.slices[source]
	if !ok {
		byDate = make(map[string]memorySlice)
		m.slices[source] = byDate
	}
	cp := make([]core.StockRecord, len(records))
	copy(cp, records)
	byDate[date.Format("2006-01-02")] = memorySlice{lastSyncAt: m.now(), records: cp}
	return len(cp), 0, nil
}

func (m *MemorySnapshotStore) LatestSnapshot(_ context.Context, source core.Source, before time.Time) (*core.CachedSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDate := m.slices[source]
	if len(byDate) == 0 {
		return nil, nil
	}
	cutoff := before.Format("2006-01-02")
	days := make([]string, 0, len(byDate))
	for day := range byDate {
		if day < cutoff && len(byDate[day].records) > 0 {
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		return nil, nil
	}
	sort.Strings(days)
	day := days[len(days)-1]
	slice := byDate[day]

	date, _ := time.Parse("2006-01-02", day)
	cp := make([]core.StockRecord, len(slice.records))
	copy(cp, slice.records)
	return &core.CachedSnapshot{
		Source:       source,
		SnapshotDate: date,
		LastSyncAt:   slice.lastSyncAt,
		Records:      cp,
	}, nil
}

// MemoryDirectory is a fixed in-memory product directory.
type MemoryDirectory struct {
	Products []core.ProductIdentity
}

func (d *MemoryDirectory) ListProductIdentities(_ context.Context) ([]core.ProductIdentity, error) {
	out := make([]core.ProductIdentity, len(d.Products))
	copy(out, d.Products)
	return out, nil
}

// MemorySessionLog collects finished sessions in order.
type MemorySessionLog struct {
	mu       sync.Mutex
	sessions []core.SyncSession
}

func NewMemorySessionLog() *MemorySessionLog { return &MemorySessionLog{} }

func (l *MemorySessionLog) InsertSyncSession(_ context.Context, s core.SyncSession) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
	return nil
}

func (l *MemorySessionLog) Sessions() []core.SyncSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.SyncSession, len(l.sessions))
	copy(out, l.sessions)
	return out
}
