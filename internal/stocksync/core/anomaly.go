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
	"fmt"
	"math"
	"time"
)

// AnomalySettings carries the thresholds of every batch check. Zero values
// are replaced by the documented defaults in NewDetector.
type AnomalySettings struct {
	// ZeroStockRatio is the fraction of zero-present records above which a
	// spike is reported.
	ZeroStockRatio float64
	// ChangeThreshold is the relative change in present quantity that counts
	// a product as "massively changed" against history.
	ChangeThreshold float64
	// ChangedProductsMin is how many changed products it takes to report.
	ChangedProductsMin int
	// MissingProductsMax is how many history products may be absent from the
	// new batch before a signal is raised.
	MissingProductsMax int
	// StaleAfter is the age of the last successful run beyond which data is
	// stale; past twice this the severity escalates to high.
	StaleAfter time.Duration
	// APIErrorThreshold is the non-2xx count over the trailing window above
	// which elevated API errors are reported.
	APIErrorThreshold int
}

// BatchStats carries the per-run observations the detector cannot derive
// from the records alone.
type BatchStats struct {
	// DuplicateKeys is the validator's duplicate count for the batch.
	DuplicateKeys int
	// NegativeInputs is the processor's count of clamped negative quantities.
	NegativeInputs int
	// LastSuccessAt is the previous successful run of this source; zero when
	// the source has never synced.
	LastSuccessAt time.Time
	// APIErrors is the non-2xx response count over the trailing window.
	APIErrors int
}

// Detector evaluates every data-quality check on every run. Anomalies are
// informational: they never block persistence.
type Detector struct {
	settings AnomalySettings
	now      func() time.Time
}

func NewDetector(s AnomalySettings) *Detector {
	if s.ZeroStockRatio <= 0 {
		s.ZeroStockRatio = 0.3
	}
	if s.ChangeThreshold <= 0 {
		s.ChangeThreshold = 0.5
	}
	if s.ChangedProductsMin <= 0 {
		s.ChangedProductsMin = 5
	}
	if s.MissingProductsMax <= 0 {
		s.MissingProductsMax = 10
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = 6 * time.Hour
	}
	if s.APIErrorThreshold <= 0 {
		s.APIErrorThreshold = 10
	}
	return &Detector{settings: s, now: time.Now}
}

// Detect runs all checks independently and returns every triggered anomaly.
// history may be nil when the source has no prior snapshot.
func (d *Detector) Detect(records []StockRecord, source Source, history *CachedSnapshot, stats BatchStats) []Anomaly {
	now := d.now()
	var out []Anomaly

	add := func(t AnomalyType, sev AnomalySeverity, desc string, affected int) {
		out = append(out, Anomaly{
			Type:          t,
			Severity:      sev,
			Source:        source,
			Description:   desc,
			AffectedCount: affected,
			DetectedAt:    now,
		})
	}

	// Zero-stock spike.
	if len(records) > 0 {
		zero := 0
		for _, r := range records {
			if r.Present == 0 {
				zero++
			}
		}
		ratio := float64(zero) / float64(len(records))
		if ratio > d.settings.ZeroStockRatio {
			sev := AnomalyMedium
			if ratio > d.settings.ZeroStockRatio*2 {
				sev = AnomalyHigh
			}
			add(AnomalyZeroStockSpike, sev,
				fmt.Sprintf("%.0f%% of records have zero present stock (threshold %.0f%%)",
					ratio*100, d.settings.ZeroStockRatio*100), zero)
		}
	}

	// Massive change and missing products, both against history.
	if history != nil && len(history.Records) > 0 {
		prevTotals := make(map[int64]int, len(history.Records))
		for _, r := range history.Records {
			prevTotals[r.ProductID] += r.Present
		}
		newTotals := make(map[int64]int, len(records))
		for _, r := range records {
			newTotals[r.ProductID] += r.Present
		}

		changed := 0
		for id, prev := range prevTotals {
			cur, ok := newTotals[id]
			if !ok || prev == 0 {
				continue
			}
			rel := math.Abs(float64(cur-prev)) / float64(prev)
			if rel > d.settings.ChangeThreshold {
				changed++
			}
		}
		if changed > d.settings.ChangedProductsMin {
			add(AnomalyMassiveChange, AnomalyMedium,
				fmt.Sprintf("%d products changed present stock by more than %.0f%% since the last snapshot",
					changed, d.settings.ChangeThreshold*100), changed)
		}

		missing := 0
		for id := range prevTotals {
			if _, ok := newTotals[id]; !ok {
				missing++
			}
		}
		if missing > d.settings.MissingProductsMax {
			add(AnomalyMissingProducts, AnomalyMedium,
				fmt.Sprintf("%d products from the last snapshot are absent from this batch", missing), missing)
		}
	}

	// Duplicates flagged by the validator.
	if stats.DuplicateKeys > 0 {
		add(AnomalyDuplicateRecords, AnomalyLow,
			fmt.Sprintf("%d duplicate record keys in batch", stats.DuplicateKeys), stats.DuplicateKeys)
	}

	// Raw negative quantities clamped by the processor.
	if stats.NegativeInputs > 0 {
		add(AnomalyNegativeStock, AnomalyMedium,
			fmt.Sprintf("%d stock entries arrived with negative quantities", stats.NegativeInputs), stats.NegativeInputs)
	}

	// Stale data.
	if !stats.LastSuccessAt.IsZero() {
		age := now.Sub(stats.LastSuccessAt)
		if age > d.settings.StaleAfter {
			sev := AnomalyMedium
			if age > 2*d.settings.StaleAfter {
				sev = AnomalyHigh
			}
			add(AnomalyStaleData, sev,
				fmt.Sprintf("last successful sync was %s ago", age.Round(time.Minute)), 0)
		}
	}

	// Elevated API errors over the trailing window.
	if stats.APIErrors > d.settings.APIErrorThreshold {
		add(AnomalyAPIErrors, AnomalyHigh,
			fmt.Sprintf("%d API errors in the trailing window (threshold %d)",
				stats.APIErrors, d.settings.APIErrorThreshold), stats.APIErrors)
	}

	return out
}
