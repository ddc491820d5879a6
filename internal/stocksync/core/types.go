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

// Package core implements the inventory synchronization engine: identity
// resolution, parallel record expansion, validation, anomaly detection,
// fallback to cached snapshots, and per-run session accounting.
//
// A run is the unit of work: one source, one snapshot date. Runs for
// different sources are fully independent; concurrent runs for the same
// source are expected to be serialized by the caller.
package core

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Source identifies a marketplace feed.
type Source string

const (
	SourceOzon        Source = "ozon"
	SourceWildberries Source = "wildberries"
)

// Stock fulfillment types. Ozon reports per-type stock; Wildberries supplier
// stocks are always platform-fulfilled.
const (
	StockTypeFBO         = "fbo"
	StockTypeFBS         = "fbs"
	StockTypeCrossborder = "crossborder"
)

// StockRecord is one canonical row per (product, source, warehouse,
// stock type, snapshot date). Records are immutable once produced by the
// processor; the writer persists them unchanged.
//
// Invariant: Available == max(0, Present-Reserved) and all quantities >= 0.
type StockRecord struct {
	ProductID    int64
	ExternalSKU  string
	Source       Source
	Warehouse    string
	StockType    string
	Present      int
	Reserved     int
	Available    int
	SnapshotDate time.Time

	// ReportedAvailable is the marketplace's own available figure when one
	// was present in the payload. Available above is always recomputed from
	// present and reserved; a disagreement here is flagged by the validator
	// as a WARNING. Not persisted.
	ReportedAvailable *int
}

// Key returns the uniqueness key of a record within one (source, date) slice.
func (r StockRecord) Key() string {
	return strconv.FormatInt(r.ProductID, 10) + "|" + r.Warehouse + "|" + r.StockType
}

// WarehouseStock is one per-warehouse stock entry of a raw API item, before
// identity resolution. Quantities are kept as reported (possibly negative,
// possibly with the marketplace's own idea of "available") so that the
// processor can clamp and the validator/anomaly detector can flag.
type WarehouseStock struct {
	Warehouse string
	StockType string
	Present   int
	Reserved  int

	// ReportedAvailable carries the API's own available figure when the
	// payload includes one; nil when the API does not report it.
	ReportedAvailable *int
}

// StockItem is one raw API item: an externally-identified product with its
// per-warehouse stock entries. Which identifier fields are populated depends
// on the source (Ozon: offer id; Wildberries: barcode + numeric article).
type StockItem struct {
	OfferID        string
	MarketplaceSKU string
	Barcode        string
	Stocks         []WarehouseStock
}

// IssueSeverity grades a validation finding.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "ERROR"
	SeverityWarning IssueSeverity = "WARNING"
	SeverityInfo    IssueSeverity = "INFO"
)

// ValidationIssue is a single structured finding about one record.
// ERROR issues exclude the record from the write set; WARNING and INFO are
// retained for observability only.
type ValidationIssue struct {
	Severity IssueSeverity
	Field    string
	Message  string
	RecordID string
}

// AnomalyType enumerates the batch-level data quality checks.
type AnomalyType string

const (
	AnomalyZeroStockSpike   AnomalyType = "ZERO_STOCK_SPIKE"
	AnomalyMassiveChange    AnomalyType = "MASSIVE_CHANGE"
	AnomalyMissingProducts  AnomalyType = "MISSING_PRODUCTS"
	AnomalyDuplicateRecords AnomalyType = "DUPLICATE_RECORDS"
	AnomalyNegativeStock    AnomalyType = "NEGATIVE_STOCK"
	AnomalyStaleData        AnomalyType = "STALE_DATA"
	AnomalyAPIErrors        AnomalyType = "ELEVATED_API_ERRORS"
)

// AnomalySeverity grades an anomaly signal.
type AnomalySeverity string

const (
	AnomalyLow    AnomalySeverity = "low"
	AnomalyMedium AnomalySeverity = "medium"
	AnomalyHigh   AnomalySeverity = "high"
)

// Anomaly is an informational data-quality signal produced per run. It never
// blocks persistence; it is forwarded to the session tracker and telemetry.
type Anomaly struct {
	Type          AnomalyType
	Severity      AnomalySeverity
	Source        Source
	Description   string
	AffectedCount int
	DetectedAt    time.Time
}

// SyncStatus is the terminal outcome of one run.
type SyncStatus string

const (
	StatusSuccess  SyncStatus = "SUCCESS"
	StatusPartial  SyncStatus = "PARTIAL"
	StatusFailed   SyncStatus = "FAILED"
	StatusFallback SyncStatus = "FALLBACK"
)

// SyncSession carries the counters and timing of one run. It is created by
// Tracker.Start, mutated only by the owning run, and finalized exactly once.
type SyncSession struct {
	ID          uuid.UUID
	Source      Source
	SyncType    string
	Status      SyncStatus
	Processed   int
	Inserted    int
	Failed      int
	APIRequests int
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string

	Stages    []StageResult
	Anomalies []Anomaly
}

// StageResult records the outcome of one pipeline stage inside a run.
type StageResult struct {
	Name      string
	Processed int
	Succeeded int
	Duration  time.Duration
}

// CachedSnapshot is a previously persisted (source, date) record slice, used
// by the fallback manager and as history for the anomaly detector. It is a
// read-only input: a failed run never mutates it.
type CachedSnapshot struct {
	Source       Source
	SnapshotDate time.Time
	LastSyncAt   time.Time
	Records      []StockRecord
}

// FallbackStatus is the outcome of a fallback attempt.
type FallbackStatus string

const (
	FallbackApplied FallbackStatus = "success"
	FallbackFailed  FallbackStatus = "failed"
)

// FallbackResult reports whether a cached snapshot was re-persisted and how
// many records it carried.
type FallbackResult struct {
	Status        FallbackStatus
	CopiedRecords int
	SnapshotAge   time.Duration
}
