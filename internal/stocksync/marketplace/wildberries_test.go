package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newWBTestFeed(t *testing.T, srv *httptest.Server) *WildberriesFeed {
	t.Helper()
	client, _ := newTestClient(srv.Client(), DefaultRetryPolicy(), nil)
	return NewWildberriesFeed(client, srv.URL, "wb-token")
}

func TestWildberriesFetchStocks_GroupsByProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/supplier/stocks" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "wb-token" {
			t.Errorf("missing authorization header")
		}
		fmt.Fprint(w, `[
			{"barcode":"460001","nmId":111,"warehouseName":"MSK-1","quantity":10,"inWayToClient":2,"inWayFromClient":1},
			{"barcode":"460002","nmId":222,"warehouseName":"MSK-1","quantity":5,"inWayToClient":0,"inWayFromClient":0},
			{"barcode":"460001","nmId":111,"warehouseName":"SPB-1","quantity":4,"inWayToClient":1,"inWayFromClient":0}
		]`)
	}))
	defer srv.Close()

	feed := newWBTestFeed(t, srv)
	items, err := feed.FetchStocks(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	// Two products; the first holds both of its warehouse rows, first seen
	// first.
	if len(items) != 2 {
		t.Fatalf("items: %d", len(items))
	}
	first := items[0]
	if first.Barcode != "460001" || first.MarketplaceSKU != "111" {
		t.Fatalf("identity: %+v", first)
	}
	if len(first.Stocks) != 2 {
		t.Fatalf("warehouses not grouped: %+v", first.Stocks)
	}
	if first.Stocks[0].Warehouse != "MSK-1" || first.Stocks[1].Warehouse != "SPB-1" {
		t.Fatalf("warehouse order: %+v", first.Stocks)
	}
	// Reserved is in-transit both ways.
	if first.Stocks[0].Reserved != 3 || first.Stocks[1].Reserved != 1 {
		t.Fatalf("reserved: %+v", first.Stocks)
	}
	for _, s := range first.Stocks {
		if s.StockType != "fbo" {
			t.Fatalf("all wildberries stock is platform fulfilled: %+v", s)
		}
	}
}

func TestWildberriesFetchStocks_BlankIdentityRowsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"barcode":"  ","nmId":0,"warehouseName":"MSK-1","quantity":5},
			{"barcode":"460001","nmId":0,"warehouseName":"MSK-1","quantity":7}
		]`)
	}))
	defer srv.Close()

	feed := newWBTestFeed(t, srv)
	items, err := feed.FetchStocks(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items: %+v", items)
	}
	// With no nmId the marketplace sku stays empty rather than "0".
	if items[0].Barcode != "460001" || items[0].MarketplaceSKU != "" {
		t.Fatalf("identity: %+v", items[0])
	}
}

func TestWildberriesFetchStocks_MalformedPayloadIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected":"object"}`)
	}))
	defer srv.Close()

	feed := newWBTestFeed(t, srv)
	_, err := feed.FetchStocks(context.Background())
	ec, ok := AsErrorContext(err)
	if !ok || ec.Kind != KindTransient {
		t.Fatalf("expected transient parse failure, got %v", err)
	}
	if ec.Exhausted() {
		t.Fatalf("a parse failure spent no retry budget and must not fall back")
	}
}

func TestWildberriesFetchStocks_EmptyListIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	feed := newWBTestFeed(t, srv)
	items, err := feed.FetchStocks(context.Background())
	if err != nil {
		t.Fatalf("an empty list is a valid response: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items: %+v", items)
	}
}
