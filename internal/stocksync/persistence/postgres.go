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
	"strings"
	"time"

	"stocksync/internal/stocksync/core"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists stock snapshots, the product directory, and the
// sync session log. See migrations/ for the schema it expects.
//
// The replace-write runs in one transaction: the DELETE of the (source, date)
// slice must succeed or the whole write aborts, because a partial delete
// followed by inserts would merge old and new rows. Each insert batch runs
// inside a savepoint so one bad batch loses only its own rows.
type PostgresStore struct {
	db        *sql.DB
	batchSize int

	// defaultTimeout bounds calls whose ctx carries no deadline.
	defaultTimeout time.Duration
}

// OpenPostgres opens a pooled connection through the pgx stdlib driver and
// verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB, batchSize int) *PostgresStore {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &PostgresStore{
		db:             db,
		batchSize:      batchSize,
		defaultTimeout: 30 * time.Second,
	}
}

func (p *PostgresStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		return context.WithTimeout(ctx, p.defaultTimeout)
	}
	return ctx, func() {}
}

// ReplaceSnapshot swaps the (source, date) slice for records.
func (p *PostgresStore) ReplaceSnapshot(ctx context.Context, source core.Source, date time.Time, records []core.StockRecord) (inserted, failedBatches int, err error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, 0, fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	day := date.Format("2006-01-02")
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stock_snapshots WHERE source = $1 AND snapshot_date = $2`,
		string(source), day); err != nil {
		return 0, 0, fmt.Errorf("delete slice (%s, %s): %w", source, day, err)
	}

	now := time.Now().UTC()
	for start := 0; start < len(records); start += p.batchSize {
		end := start + p.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if _, err := tx.ExecContext(ctx, `SAVEPOINT batch_insert`); err != nil {
			return inserted, failedBatches, fmt.Errorf("savepoint: %w", err)
		}
		query, args := buildInsert(batch, day, now)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			failedBatches++
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT batch_insert`); rbErr != nil {
				return inserted, failedBatches, fmt.Errorf("rollback to savepoint after %v: %w", err, rbErr)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT batch_insert`); err != nil {
			return inserted, failedBatches, fmt.Errorf("release savepoint: %w", err)
		}
		inserted += len(batch)
	}

	if err := tx.Commit(); err != nil {
		return 0, failedBatches, fmt.Errorf("commit replace: %w", err)
	}
	return inserted, failedBatches, nil
}

// buildInsert renders one multi-row insert for a batch.
func buildInsert(batch []core.StockRecord, day string, now time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO stock_snapshots
 (product_id, external_sku, source, warehouse_name, stock_type, present, reserved, available, snapshot_date, last_sync_at)
 VALUES `)
	args := make([]any, 0, len(batch)*10)
	for i, r := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			r.ProductID, r.ExternalSKU, string(r.Source), r.Warehouse, r.StockType,
			r.Present, r.Reserved, r.Available, day, now)
	}
	return b.String(), args
}

// LatestSnapshot loads the newest slice for source dated strictly before the
// given date, or nil when none exists.
func (p *PostgresStore) LatestSnapshot(ctx context.Context, source core.Source, before time.Time) (*core.CachedSnapshot, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	var day string
	err := p.db.QueryRowContext(ctx,
		`SELECT snapshot_date::text FROM stock_snapshots
		  WHERE source = $1 AND snapshot_date < $2
		  ORDER BY snapshot_date DESC LIMIT 1`,
		string(source), before.Format("2006-01-02")).Scan(&day)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest snapshot date: %w", err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT product_id, external_sku, warehouse_name, stock_type, present, reserved, available, last_sync_at
		   FROM stock_snapshots
		  WHERE source = $1 AND snapshot_date = $2`,
		string(source), day)
	if err != nil {
		return nil, fmt.Errorf("load snapshot rows: %w", err)
	}
	defer rows.Close()

	date, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot date %q: %w", day, err)
	}
	snap := &core.CachedSnapshot{Source: source, SnapshotDate: date}
	for rows.Next() {
		var r core.StockRecord
		var lastSync time.Time
		if err := rows.Scan(&r.ProductID, &r.ExternalSKU, &r.Warehouse, &r.StockType,
			&r.Present, &r.Reserved, &r.Available, &lastSync); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		r.Source = source
		r.SnapshotDate = date
		if lastSync.After(snap.LastSyncAt) {
			snap.LastSyncAt = lastSync
		}
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	if len(snap.Records) == 0 {
		return nil, nil
	}
	return snap, nil
}

// ListProductIdentities performs the bulk directory read that seeds the
// per-run identity cache.
func (p *PostgresStore) ListProductIdentities(ctx context.Context) ([]core.ProductIdentity, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, COALESCE(sku, ''), COALESCE(marketplace_sku, ''), COALESCE(barcode, '') FROM products`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []core.ProductIdentity
	for rows.Next() {
		var pi core.ProductIdentity
		if err := rows.Scan(&pi.ProductID, &pi.SKU, &pi.MarketplaceSKU, &pi.Barcode); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		out = append(out, pi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return out, nil
}

// InsertSyncSession appends one finished run to the session log.
func (p *PostgresStore) InsertSyncSession(ctx context.Context, s core.SyncSession) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	var errMsg sql.NullString
	if s.Error != "" {
		errMsg = sql.NullString{String: s.Error, Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sync_sessions
		 (id, source, sync_type, status, processed, inserted, failed, api_requests, started_at, completed_at, error_message)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID.String(), string(s.Source), s.SyncType, string(s.Status),
		s.Processed, s.Inserted, s.Failed, s.APIRequests,
		s.StartedAt.UTC(), s.CompletedAt.UTC(), errMsg)
	if err != nil {
		return fmt.Errorf("insert sync session %s: %w", s.ID, err)
	}
	return nil
}
