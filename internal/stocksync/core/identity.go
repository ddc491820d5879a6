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
	"fmt"
	"log/slog"
	"strings"
)

// IdentityScheme names one of the three external identifier namespaces.
type IdentityScheme string

const (
	SchemeSKU            IdentityScheme = "sku"
	SchemeMarketplaceSKU IdentityScheme = "marketplace_sku"
	SchemeBarcode        IdentityScheme = "barcode"
)

// ProductIdentity is one row of the product directory: an internal id with
// whichever external identifiers are known for it.
type ProductIdentity struct {
	ProductID      int64
	SKU            string
	MarketplaceSKU string
	Barcode        string
}

// IdentitySource performs the single bulk query that seeds a cache.
// The Postgres implementation lives in the persistence package.
type IdentitySource interface {
	ListProductIdentities(ctx context.Context) ([]ProductIdentity, error)
}

// IdentityCache maps external identifiers to internal product ids. It is
// built once at the start of a run, shared read-only by all workers, and
// discarded when the run ends; there is no cross-run staleness to manage.
type IdentityCache struct {
	bySKU     map[string]int64
	byMktSKU  map[string]int64
	byBarcode map[string]int64
}

// LoadIdentityCache performs the bulk load. A failure here aborts the run
// before any API call is made: without the directory there is nothing to
// resolve against.
func LoadIdentityCache(ctx context.Context, src IdentitySource, log *slog.Logger) (*IdentityCache, error) {
	rows, err := src.ListProductIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load product directory: %w", err)
	}

	c := &IdentityCache{
		bySKU:     make(map[string]int64, len(rows)),
		byMktSKU:  make(map[string]int64, len(rows)),
		byBarcode: make(map[string]int64, len(rows)),
	}
	for _, row := range rows {
		if v := strings.TrimSpace(row.SKU); v != "" {
			c.bySKU[v] = row.ProductID
		}
		if v := strings.TrimSpace(row.MarketplaceSKU); v != "" {
			c.byMktSKU[v] = row.ProductID
		}
		if v := strings.TrimSpace(row.Barcode); v != "" {
			c.byBarcode[v] = row.ProductID
		}
	}

	log.Info("identity cache loaded",
		"sku", len(c.bySKU),
		"marketplace_sku", len(c.byMktSKU),
		"barcode", len(c.byBarcode))
	return c, nil
}

// Resolve looks up key in the given scheme. A miss is not an error of the
// cache; callers turn it into a record-level failure.
func (c *IdentityCache) Resolve(scheme IdentityScheme, key string) (int64, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, false
	}
	var m map[string]int64
	switch scheme {
	case SchemeSKU:
		m = c.bySKU
	case SchemeMarketplaceSKU:
		m = c.byMktSKU
	case SchemeBarcode:
		m = c.byBarcode
	default:
		return 0, false
	}
	id, ok := m[key]
	return id, ok
}

// ResolveItem tries the schemes an item actually carries, in precedence
// order: offer id, then marketplace article, then barcode.
func (c *IdentityCache) ResolveItem(item StockItem) (int64, bool) {
	if id, ok := c.Resolve(SchemeSKU, item.OfferID); ok {
		return id, true
	}
	if id, ok := c.Resolve(SchemeMarketplaceSKU, item.MarketplaceSKU); ok {
		return id, true
	}
	return c.Resolve(SchemeBarcode, item.Barcode)
}

// Size returns the entry counts per scheme, for logging and health output.
func (c *IdentityCache) Size() (sku, mktSKU, barcode int) {
	return len(c.bySKU), len(c.byMktSKU), len(c.byBarcode)
}
