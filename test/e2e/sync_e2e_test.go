//go:build e2e

// Package e2e wires the real pipeline end to end: live marketplace codecs
// against local mock APIs, the in-memory stores, and the full syncer. No
// external services are required.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stocksync/internal/stocksync/core"
	"stocksync/internal/stocksync/marketplace"
	"stocksync/internal/stocksync/persistence"
)

func fastPolicy() marketplace.RetryPolicy {
	return marketplace.RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       5 * time.Millisecond,
		MaxDelay:        20 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSyncer(dir core.IdentitySource, store *persistence.MemorySnapshotStore, sessions *persistence.MemorySessionLog) *core.Syncer {
	log := testLogger()
	return &core.Syncer{
		Directory: dir,
		Store:     store,
		Sessions:  sessions,
		State:     persistence.NewMemorySyncState(time.Hour),
		Tracker:   core.NewTracker(10),
		Processor: core.NewProcessor(4, log),
		Validator: core.NewValidator(0),
		Detector:  core.NewDetector(core.AnomalySettings{}),
		Fallback:  core.NewFallbackManager(store, 24*time.Hour, log),
		Log:       log,
	}
}

func directory(n int) *persistence.MemoryDirectory {
	products := make([]core.ProductIdentity, n)
	for i := range products {
		products[i] = core.ProductIdentity{
			ProductID: int64(i + 1),
			SKU:       fmt.Sprintf("SKU-%04d", i),
			Barcode:   fmt.Sprintf("46000%04d", i),
		}
	}
	return &persistence.MemoryDirectory{Products: products}
}

// mockOzon serves the paginated stocks endpoint for n products.
func mockOzon(n int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		type entry struct {
			WarehouseName string `json:"warehouse_name"`
			Type          string `json:"type"`
			Present       int    `json:"present"`
			Reserved      int    `json:"reserved"`
		}
		type item struct {
			OfferID string  `json:"offer_id"`
			Stocks  []entry `json:"stocks"`
		}
		var items []item
		for i := req.Offset; i < n && i < req.Offset+req.Limit; i++ {
			items = append(items, item{
				OfferID: fmt.Sprintf("SKU-%04d", i),
				Stocks:  []entry{{WarehouseName: "MSK-1", Type: "fbo", Present: 10 + i, Reserved: i % 3}},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"items": items}})
	})
}

// mockWildberries serves the single-shot supplier stocks list for n products.
func mockWildberries(n int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type row struct {
			Barcode       string `json:"barcode"`
			NmID          int64  `json:"nmId"`
			WarehouseName string `json:"warehouseName"`
			Quantity      int    `json:"quantity"`
			InWayToClient int    `json:"inWayToClient"`
		}
		rows := make([]row, 0, n)
		for i := 0; i < n; i++ {
			rows = append(rows, row{
				Barcode:       fmt.Sprintf("46000%04d", i),
				NmID:          int64(1000 + i),
				WarehouseName: "SPB-1",
				Quantity:      20 + i,
				InWayToClient: i % 2,
			})
		}
		json.NewEncoder(w).Encode(rows)
	})
}

func TestSyncE2E_BothSourcesHappyPath(t *testing.T) {
	const n = 120

	ozonSrv := httptest.NewServer(mockOzon(n))
	defer ozonSrv.Close()
	wbSrv := httptest.NewServer(mockWildberries(n))
	defer wbSrv.Close()

	store := persistence.NewMemorySnapshotStore()
	sessions := persistence.NewMemorySessionLog()
	s := newSyncer(directory(n), store, sessions)

	ozonFeed := marketplace.NewOzonFeed(
		marketplace.NewClient(ozonSrv.Client(), fastPolicy(), testLogger(), nil),
		marketplace.OzonFeedOptions{BaseURL: ozonSrv.URL, ClientID: "c", APIKey: "k", PageSize: 50},
	)
	wbFeed := marketplace.NewWildberriesFeed(
		marketplace.NewClient(wbSrv.Client(), fastPolicy(), testLogger(), nil),
		wbSrv.URL, "token",
	)

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	for _, feed := range []core.Feed{ozonFeed, wbFeed} {
		sess := s.Run(context.Background(), feed, date)
		if sess.Status != core.StatusSuccess {
			t.Fatalf("%s: status %s (%s)", feed.Source(), sess.Status, sess.Error)
		}
		if sess.Processed != n || sess.Inserted != n || sess.Failed != 0 {
			t.Fatalf("%s: counts %+v", feed.Source(), sess)
		}
	}

	// Each source owns its own slice for the date; both are queryable as
	// history from the next day.
	next := date.Add(24 * time.Hour)
	for _, source := range []core.Source{core.SourceOzon, core.SourceWildberries} {
		snap, err := store.LatestSnapshot(context.Background(), source, next)
		if err != nil {
			t.Fatalf("%s: %v", source, err)
		}
		if snap == nil || len(snap.Records) != n {
			t.Fatalf("%s: snapshot %+v", source, snap)
		}
		for _, rec := range snap.Records {
			if rec.Available != rec.Present-rec.Reserved {
				t.Fatalf("%s: availability invariant broken: %+v", source, rec)
			}
		}
	}
	if got := len(sessions.Sessions()); got != 2 {
		t.Fatalf("session log: %d", got)
	}
}

func TestSyncE2E_FallbackServesCachedSnapshot(t *testing.T) {
	const n = 40

	// Day one succeeds, then the API starts failing hard.
	var failing bool
	inner := mockOzon(n)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	store := persistence.NewMemorySnapshotStore()
	sessions := persistence.NewMemorySessionLog()
	s := newSyncer(directory(n), store, sessions)
	feed := marketplace.NewOzonFeed(
		marketplace.NewClient(srv.Client(), fastPolicy(), testLogger(), nil),
		marketplace.OzonFeedOptions{BaseURL: srv.URL, ClientID: "c", APIKey: "k", PageSize: 50},
	)

	day1 := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	if sess := s.Run(context.Background(), feed, day1); sess.Status != core.StatusSuccess {
		t.Fatalf("day one: %s (%s)", sess.Status, sess.Error)
	}

	failing = true
	day2 := day1.Add(24 * time.Hour)
	sess := s.Run(context.Background(), feed, day2)

	if sess.Status != core.StatusFallback {
		t.Fatalf("day two: %s (%s)", sess.Status, sess.Error)
	}
	if sess.Inserted != n {
		t.Fatalf("fallback row count: %d", sess.Inserted)
	}
	if sess.Error == "" {
		t.Fatalf("the API failure must stay on the session")
	}

	// The cached rows now live under day two as well.
	snap, err := store.LatestSnapshot(context.Background(), core.SourceOzon, day2.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if snap == nil || len(snap.Records) != n {
		t.Fatalf("day two snapshot: %+v", snap)
	}
	if !snap.SnapshotDate.Equal(day2) {
		t.Fatalf("snapshot date: %v", snap.SnapshotDate)
	}
}
