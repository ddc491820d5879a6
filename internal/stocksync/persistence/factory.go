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
	"database/sql"
	"fmt"
	"time"

	"stocksync/internal/stocksync/core"
)

// StoreOptions holds the knobs for building the persistence layer.
type StoreOptions struct {
	// DSN selects the Postgres store when non-empty; otherwise everything
	// runs in memory (local development and tests).
	DSN       string
	BatchSize int
	MaxConns  int

	// RedisAddr selects the Redis sync-state store when non-empty.
	RedisAddr string
	// ErrorWindow bounds the trailing API error window.
	ErrorWindow time.Duration
}

// Stores bundles the persistence surfaces the engine consumes. With a DSN,
// Snapshots, Directory, and Sessions all point at the same PostgresStore.
type Stores struct {
	Snapshots core.SnapshotStore
	Directory core.IdentitySource
	Sessions  core.SessionLog
	State     core.SyncStateStore

	// DB is non-nil for the Postgres adapter so the caller can run
	// migrations and close the pool on shutdown.
	DB *sql.DB
}

// BuildStores constructs the persistence layer from options. Supported
// adapters:
//   - Postgres (DSN set): snapshots, directory, and session log in one pool
//   - memory (DSN empty): in-process stores, directory empty unless seeded
//   - Redis (RedisAddr set): durable sync state; memory sync state otherwise
func BuildStores(ctx context.Context, opts StoreOptions) (*Stores, error) {
	s := &Stores{}

	if opts.DSN != "" {
		db, err := OpenPostgres(ctx, opts.DSN, opts.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("build postgres store: %w", err)
		}
		pg := NewPostgresStore(db, opts.BatchSize)
		s.Snapshots = pg
		s.Directory = pg
		s.Sessions = pg
		s.DB = db
	} else {
		s.Snapshots = NewMemorySnapshotStore()
		s.Directory = &MemoryDirectory{}
		s.Sessions = NewMemorySessionLog()
	}

	if opts.RedisAddr != "" {
		s.State = NewRedisSyncState(NewGoRedisEvaler(opts.RedisAddr), opts.ErrorWindow)
	} else {
		s.State = NewMemorySyncState(opts.ErrorWindow)
	}
	return s, nil
}

// Close releases the database pool when one was opened.
func (s *Stores) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
