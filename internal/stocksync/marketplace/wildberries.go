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

package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"stocksync/internal/stocksync/core"
)

// WildberriesFeed fetches supplier stocks from a Wildberries-style API: one
// GET returning the full warehouse stock list. Reserved quantity is the sum
// of goods in transit to and from customers; all stock is platform-fulfilled.
type WildberriesFeed struct {
	client  *Client
	baseURL string
	apiKey  string
}

func NewWildberriesFeed(client *Client, baseURL, apiKey string) *WildberriesFeed {
	return &WildberriesFeed{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (f *WildberriesFeed) Source() core.Source { return core.SourceWildberries }

// TakeAPIStats drains the attempt counters of the underlying client.
func (f *WildberriesFeed) TakeAPIStats() (requests, errors int) { return f.client.TakeStats() }

type wbStockRow struct {
	Barcode         string `json:"barcode"`
	NmID            int64  `json:"nmId"`
	WarehouseName   string `json:"warehouseName"`
	Quantity        int    `json:"quantity"`
	InWayToClient   int    `json:"inWayToClient"`
	InWayFromClient int    `json:"inWayFromClient"`
}

// FetchStocks performs the single GET and groups rows by product identity so
// that one StockItem carries all warehouses of a product, matching the shape
// the processor expects from every source.
func (f *WildberriesFeed) FetchStocks(ctx context.Context) ([]core.StockItem, error) {
	body, err := f.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			f.baseURL+"/api/v1/supplier/stocks", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", f.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var rows []wbStockRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &ErrorContext{
			Kind:     KindTransient,
			Message:  fmt.Sprintf("stocks payload parse: %v", err),
			Attempts: 1,
		}
	}

	// Group by (barcode, nmId); a product can appear once per warehouse.
	type groupKey struct {
		barcode string
		nmID    int64
	}
	groups := make(map[groupKey]*core.StockItem, len(rows))
	order := make([]groupKey, 0, len(rows))

	for _, row := range rows {
		barcode := strings.TrimSpace(row.Barcode)
		if barcode == "" && row.NmID == 0 {
			continue
		}
		key := groupKey{barcode: barcode, nmID: row.NmID}
		item, ok := groups[key]
		if !ok {
			item = &core.StockItem{Barcode: barcode}
			if row.NmID != 0 {
				item.MarketplaceSKU = strconv.FormatInt(row.NmID, 10)
			}
			groups[key] = item
			order = append(order, key)
		}
		item.Stocks = append(item.Stocks, core.WarehouseStock{
			Warehouse: strings.TrimSpace(row.WarehouseName),
			StockType: core.StockTypeFBO,
			Present:   row.Quantity,
			Reserved:  row.InWayToClient + row.InWayFromClient,
		})
	}

	out := make([]core.StockItem, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out, nil
}
