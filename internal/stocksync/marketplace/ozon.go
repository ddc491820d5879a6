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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stocksync/internal/stocksync/core"
)

// OzonFeed fetches warehouse stocks from an Ozon-style seller API: a
// paginated POST endpoint whose items carry per-warehouse stock entries.
// Pagination terminates when a page returns fewer items than the page size.
type OzonFeed struct {
	client   *Client
	baseURL  string
	clientID string
	apiKey   string
	pageSize int

	// pageDelay is the pause between successive page requests.
	pageDelay time.Duration
}

type OzonFeedOptions struct {
	BaseURL   string
	ClientID  string
	APIKey    string
	PageSize  int
	PageDelay time.Duration
}

func NewOzonFeed(client *Client, opts OzonFeedOptions) *OzonFeed {
	size := opts.PageSize
	if size <= 0 {
		size = 1000
	}
	return &OzonFeed{
		client:    client,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		clientID:  opts.ClientID,
		apiKey:    opts.APIKey,
		pageSize:  size,
		pageDelay: opts.PageDelay,
	}
}

func (f *OzonFeed) Source() core.Source { return core.SourceOzon }

// TakeAPIStats drains the attempt counters of the underlying client.
func (f *OzonFeed) TakeAPIStats() (requests, errors int) { return f.client.TakeStats() }

type ozonStocksRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type ozonStockEntry struct {
	WarehouseName string `json:"warehouse_name"`
	Type          string `json:"type"`
	Present       int    `json:"present"`
	Reserved      int    `json:"reserved"`
	Available     *int   `json:"available,omitempty"`
}

type ozonStockItem struct {
	OfferID string           `json:"offer_id"`
	Stocks  []ozonStockEntry `json:"stocks"`
}

type ozonStocksResponse struct {
	Result struct {
		Items []ozonStockItem `json:"items"`
	} `json:"result"`
	// Some payloads omit the result wrapper.
	Items []ozonStockItem `json:"items"`
}

// FetchStocks walks every page sequentially: each page is awaited before the
// next is requested, with pageDelay between them. All pages merge into one
// batch; inter-page ordering beyond that is irrelevant downstream.
func (f *OzonFeed) FetchStocks(ctx context.Context) ([]core.StockItem, error) {
	var out []core.StockItem

	for offset := 0; ; offset += f.pageSize {
		if offset > 0 && f.pageDelay > 0 {
			if err := sleepCtx(ctx, f.pageDelay); err != nil {
				return nil, &ErrorContext{Kind: KindTransient, Message: "canceled between pages", Attempts: 0}
			}
		}

		page, err := f.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < f.pageSize {
			return out, nil
		}
	}
}

func (f *OzonFeed) fetchPage(ctx context.Context, offset int) ([]core.StockItem, error) {
	payload, err := json.Marshal(ozonStocksRequest{Limit: f.pageSize, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("marshal stocks request: %w", err)
	}

	body, err := f.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			f.baseURL+"/v3/product/info/stocks", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Client-Id", f.clientID)
		req.Header.Set("Api-Key", f.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var resp ozonStocksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ErrorContext{
			Kind:     KindTransient,
			Message:  fmt.Sprintf("stocks payload parse: %v", err),
			Attempts: 1,
		}
	}
	items := resp.Result.Items
	if len(items) == 0 {
		items = resp.Items
	}

	out := make([]core.StockItem, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.OfferID)
		if id == "" {
			continue
		}
		stocks := make([]core.WarehouseStock, 0, len(it.Stocks))
		for _, s := range it.Stocks {
			stocks = append(stocks, core.WarehouseStock{
				Warehouse:         strings.TrimSpace(s.WarehouseName),
				StockType:         strings.ToLower(strings.TrimSpace(s.Type)),
				Present:           s.Present,
				Reserved:          s.Reserved,
				ReportedAvailable: s.Available,
			})
		}
		out = append(out, core.StockItem{OfferID: id, Stocks: stocks})
	}
	return out, nil
}
