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

// Command marketplace-mock serves fake Ozon-style and Wildberries-style
// stock endpoints for manual testing of the engine without marketplace
// credentials. Failure injection exercises the retry and fallback paths:
//
//	marketplace-mock -addr :9100 -products 5000 -fail-rate 0.3 -fail-status 503
//
// Point STOCKSYNC_OZON_BASE_URL and STOCKSYNC_WB_BASE_URL at it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
)

type ozonEntry struct {
	WarehouseName string `json:"warehouse_name"`
	Type          string `json:"type"`
	Present       int    `json:"present"`
	Reserved      int    `json:"reserved"`
}

type ozonItem struct {
	OfferID string      `json:"offer_id"`
	Stocks  []ozonEntry `json:"stocks"`
}

type wbRow struct {
	Barcode         string `json:"barcode"`
	NmID            int64  `json:"nmId"`
	WarehouseName   string `json:"warehouseName"`
	Quantity        int    `json:"quantity"`
	InWayToClient   int    `json:"inWayToClient"`
	InWayFromClient int    `json:"inWayFromClient"`
}

type mock struct {
	products   int
	failRate   float64
	failStatus int
	rng        *rand.Rand
}

var warehouses = []string{"MSK-1", "SPB-1", "KZN-1"}

func main() {
	var (
		addr       = flag.String("addr", ":9100", "listen address")
		products   = flag.Int("products", 1000, "number of distinct products to serve")
		failRate   = flag.Float64("fail-rate", 0, "probability a request fails with -fail-status")
		failStatus = flag.Int("fail-status", 503, "status code for injected failures")
		seed       = flag.Int64("seed", 42, "seed for stock quantities and failure injection")
	)
	flag.Parse()

	m := &mock{
		products:   *products,
		failRate:   *failRate,
		failStatus: *failStatus,
		rng:        rand.New(rand.NewSource(*seed)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/product/info/stocks", m.handleOzon)
	mux.HandleFunc("/api/v1/supplier/stocks", m.handleWildberries)

	log.Printf("marketplace-mock listening on %s (%d products, fail-rate %.2f)", *addr, *products, *failRate)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func (m *mock) inject(w http.ResponseWriter) bool {
	if m.failRate > 0 && m.rng.Float64() < m.failRate {
		if m.failStatus == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "1")
		}
		http.Error(w, http.StatusText(m.failStatus), m.failStatus)
		return true
	}
	return false
}

func (m *mock) handleOzon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.inject(w) {
		return
	}

	var req struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Limit <= 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	items := make([]ozonItem, 0, req.Limit)
	for i := req.Offset; i < req.Offset+req.Limit && i < m.products; i++ {
		present := m.quantity(i)
		items = append(items, ozonItem{
			OfferID: fmt.Sprintf("SKU-%06d", i),
			Stocks: []ozonEntry{{
				WarehouseName: warehouses[i%len(warehouses)],
				Type:          "fbo",
				Present:       present,
				Reserved:      present / 4,
			}},
		})
	}

	resp := map[string]any{"result": map[string]any{"items": items}}
	writeJSON(w, resp)
}

func (m *mock) handleWildberries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.inject(w) {
		return
	}

	rows := make([]wbRow, 0, m.products)
	for i := 0; i < m.products; i++ {
		qty := m.quantity(i)
		rows = append(rows, wbRow{
			Barcode:         strconv.Itoa(2000000000000 + i),
			NmID:            int64(10000000 + i),
			WarehouseName:   warehouses[i%len(warehouses)],
			Quantity:        qty,
			InWayToClient:   qty / 10,
			InWayFromClient: qty / 20,
		})
	}
	writeJSON(w, rows)
}

// quantity is deterministic per product index so repeated syncs see stable
// stock and the change detector stays quiet unless -seed changes.
func (m *mock) quantity(i int) int {
	return (i*37)%500 + i%7
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
