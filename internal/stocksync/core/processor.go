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

// This file implements the parallel item-to-record expansion. Items fan out
// across a fixed worker pool; each worker resolves identity through the
// shared read-only cache and expands per-warehouse entries into canonical
// records. Results and per-worker failure counts merge through channels;
// no shared mutable state exists beyond the final fan-in.
package core

import (
	"log/slog"
	"sync"
	"time"
)

// ProcessResult is the merged output of one processing pass.
type ProcessResult struct {
	Records   []StockRecord
	CacheHits int
	// Failed counts items that could not be resolved to a product identity.
	// A failed item never aborts its chunk or the run.
	Failed int
	// NegativeInputs counts warehouse entries whose raw quantities were
	// negative before clamping; the anomaly detector reads this.
	NegativeInputs int
	// AvailableMismatches counts entries where the API reported its own
	// available figure and it disagreed with present-reserved. The validator
	// re-derives the same signal per record; this is the batch total.
	AvailableMismatches int
}

// Processor expands raw API items into StockRecords on a worker pool.
type Processor struct {
	workers int
	log     *slog.Logger
}

func NewProcessor(workers int, log *slog.Logger) *Processor {
	if workers < 1 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{workers: workers, log: log}
}

// workerTally is one worker's local counters, merged during fan-in.
type workerTally struct {
	records   []StockRecord
	cacheHits int
	failed    int
	negatives int
	mismatch  int
}

// Process partitions items into roughly equal chunks, one per worker.
// Output ordering is unspecified; downstream treats the batch as a set.
func (p *Processor) Process(items []StockItem, source Source, cache *IdentityCache, date time.Time) ProcessResult {
	if len(items) == 0 {
		return ProcessResult{}
	}

	workers := p.workers
	if workers > len(items) {
		workers = len(items)
	}

	chunks := chunkItems(items, workers)
	results := make(chan workerTally, len(chunks))
	var wg sync.WaitGroup

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk []StockItem) {
			defer wg.Done()
			results <- p.processChunk(chunk, source, cache, date)
		}(chunk)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var out ProcessResult
	for tally := range results {
		out.Records = append(out.Records, tally.records...)
		out.CacheHits += tally.cacheHits
		out.Failed += tally.failed
		out.NegativeInputs += tally.negatives
		out.AvailableMismatches += tally.mismatch
	}

	p.log.Debug("batch processed",
		"source", source,
		"items", len(items),
		"records", len(out.Records),
		"cache_hits", out.CacheHits,
		"failed", out.Failed)
	return out
}

func (p *Processor) processChunk(items []StockItem, source Source, cache *IdentityCache, date time.Time) workerTally {
	var t workerTally
	for _, item := range items {
		productID, ok := cache.ResolveItem(item)
		if !ok {
			t.failed++
			continue
		}
		t.cacheHits++

		sku := item.OfferID
		if sku == "" {
			sku = item.Barcode
		}

		for _, ws := range item.Stocks {
			present, reserved := ws.Present, ws.Reserved
			if present < 0 || reserved < 0 {
				t.negatives++
				if present < 0 {
					present = 0
				}
				if reserved < 0 {
					reserved = 0
				}
			}
			available := present - reserved
			if available < 0 {
				available = 0
			}
			if ws.ReportedAvailable != nil && *ws.ReportedAvailable != available {
				t.mismatch++
			}

			t.records = append(t.records, StockRecord{
				ProductID:         productID,
				ExternalSKU:       sku,
				Source:            source,
				Warehouse:         ws.Warehouse,
				StockType:         ws.StockType,
				Present:           present,
				Reserved:          reserved,
				Available:         available,
				SnapshotDate:      date,
				ReportedAvailable: ws.ReportedAvailable,
			})
		}
	}
	return t
}

// chunkItems splits items into n roughly equal contiguous chunks.
func chunkItems(items []StockItem, n int) [][]StockItem {
	if n < 1 {
		n = 1
	}
	size := (len(items) + n - 1) / n
	chunks := make([][]StockItem, 0, n)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
