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

import "fmt"

// ValidationResult is the structured outcome of validating one batch.
// Validation never raises on malformed input; everything is reported here.
type ValidationResult struct {
	// Kept are the records with no ERROR issue, in input order.
	Kept []StockRecord
	// Excluded counts records dropped for carrying at least one ERROR.
	Excluded int
	// DuplicateKeys counts records whose uniqueness key was already seen in
	// the batch. Duplicates are kept but flagged for the anomaly detector.
	DuplicateKeys int
	Issues        []ValidationIssue
}

// IsValid reports whether the whole batch passed without exclusions.
func (r ValidationResult) IsValid() bool { return r.Excluded == 0 }

// Validator applies field, range, and cross-field checks to a batch.
type Validator struct {
	// UpperBound is the quantity above which a WARNING is raised.
	UpperBound int
}

func NewValidator(upperBound int) *Validator {
	if upperBound <= 0 {
		upperBound = 1_000_000
	}
	return &Validator{UpperBound: upperBound}
}

// ozonStockTypes are the recognized fulfillment tags for Ozon records.
var ozonStockTypes = map[string]bool{
	StockTypeFBO:         true,
	StockTypeFBS:         true,
	StockTypeCrossborder: true,
}

// Validate runs all checks over records, cheapest first. A record with any
// ERROR issue is excluded from the write set; WARNING and INFO issues keep
// the record and exist for observability.
func (v *Validator) Validate(records []StockRecord, source Source) ValidationResult {
	res := ValidationResult{Kept: make([]StockRecord, 0, len(records))}
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		id := rec.Key()
		hadError := false

		report := func(sev IssueSeverity, field, msg string) {
			res.Issues = append(res.Issues, ValidationIssue{
				Severity: sev,
				Field:    field,
				Message:  msg,
				RecordID: id,
			})
			if sev == SeverityError {
				hadError = true
			}
		}

		// Required fields.
		if rec.ProductID == 0 {
			report(SeverityError, "productId", "missing internal product id")
		}
		if rec.Warehouse == "" {
			report(SeverityError, "warehouseName", "missing warehouse name")
		}
		if rec.StockType == "" {
			report(SeverityError, "stockType", "missing stock type")
		}
		if rec.SnapshotDate.IsZero() {
			report(SeverityError, "snapshotDate", "missing snapshot date")
		}

		// Ranges.
		if rec.Present < 0 {
			report(SeverityError, "present", fmt.Sprintf("negative present quantity %d", rec.Present))
		} else if rec.Present > v.UpperBound {
			report(SeverityWarning, "present", fmt.Sprintf("present quantity %d above %d", rec.Present, v.UpperBound))
		}
		if rec.Reserved < 0 {
			report(SeverityError, "reserved", fmt.Sprintf("negative reserved quantity %d", rec.Reserved))
		}

		// Cross-field consistency.
		if rec.Reserved > rec.Present {
			report(SeverityError, "reserved", fmt.Sprintf("reserved %d exceeds present %d", rec.Reserved, rec.Present))
		}
		if want := rec.Present - rec.Reserved; want >= 0 && rec.Available != want {
			report(SeverityWarning, "available", fmt.Sprintf("available %d differs from present-reserved %d", rec.Available, want))
		}
		if rec.ReportedAvailable != nil && *rec.ReportedAvailable != rec.Available {
			report(SeverityWarning, "available", fmt.Sprintf("api-reported available %d differs from computed %d", *rec.ReportedAvailable, rec.Available))
		}

		// Source-specific stock type enums.
		switch source {
		case SourceOzon:
			if rec.StockType != "" && !ozonStockTypes[rec.StockType] {
				report(SeverityError, "stockType", fmt.Sprintf("unknown stock type %q", rec.StockType))
			}
		case SourceWildberries:
			if rec.StockType != "" && rec.StockType != StockTypeFBO {
				report(SeverityError, "stockType", fmt.Sprintf("unknown stock type %q", rec.StockType))
			}
		}

		// Duplicate keys within the batch. Kept, but counted.
		if seen[id] {
			res.DuplicateKeys++
			report(SeverityWarning, "key", "duplicate (productId, warehouse, stockType) in batch")
		} else {
			seen[id] = true
		}

		if hadError {
			res.Excluded++
			continue
		}
		res.Kept = append(res.Kept, rec)
	}
	return res
}
