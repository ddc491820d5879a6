package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"stocksync/internal/stocksync/core"
)

func newTestServer(tracker *core.Tracker) *httptest.Server {
	mux := http.NewServeMux()
	NewServer(tracker).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func TestHealthz_OK(t *testing.T) {
	tracker := core.NewTracker(10)
	tracker.Start(core.SourceOzon, "stocks").Finish(core.StatusSuccess, 10, 10, 0, nil)
	srv := newTestServer(tracker)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code: %d", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Sources map[core.Source]struct {
			Status core.SyncStatus `json:"status"`
		} `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status: %q", body.Status)
	}
	if body.Sources[core.SourceOzon].Status != core.StatusSuccess {
		t.Fatalf("sources: %+v", body.Sources)
	}
}

func TestHealthz_DegradedOnFailedLastRun(t *testing.T) {
	tracker := core.NewTracker(10)
	tracker.Start(core.SourceOzon, "stocks").Finish(core.StatusSuccess, 10, 10, 0, nil)
	tracker.Start(core.SourceWildberries, "stocks").Finish(core.StatusFailed, 0, 0, 0, errors.New("api down"))
	srv := newTestServer(tracker)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("a failed last run must degrade the probe, got %d", resp.StatusCode)
	}
}

func TestHealthz_FallbackIsNotDegraded(t *testing.T) {
	// A fallback run kept data flowing; the probe stays green.
	tracker := core.NewTracker(10)
	tracker.Start(core.SourceOzon, "stocks").Finish(core.StatusFallback, 5, 5, 0, errors.New("api down"))
	srv := newTestServer(tracker)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code: %d", resp.StatusCode)
	}
}

func TestSessions_History(t *testing.T) {
	tracker := core.NewTracker(10)
	run := tracker.Start(core.SourceOzon, "stocks")
	run.RecordStage("fetch", 10, 10, 0)
	run.Finish(core.StatusSuccess, 10, 10, 0, nil)
	tracker.Start(core.SourceWildberries, "stocks") // left in flight
	srv := newTestServer(tracker)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	defer resp.Body.Close()

	var body map[string][]sessionView
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body["active"]) != 1 || len(body["recent"]) != 1 {
		t.Fatalf("active=%d recent=%d", len(body["active"]), len(body["recent"]))
	}
	got := body["recent"][0]
	if got.Source != core.SourceOzon || got.Status != core.StatusSuccess || got.Inserted != 10 {
		t.Fatalf("recent: %+v", got)
	}
	if len(got.Stages) != 1 || got.Stages[0].Name != "fetch" {
		t.Fatalf("stages: %+v", got.Stages)
	}
	if got.ID == "" {
		t.Fatalf("session id must round trip")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(core.NewTracker(10))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code: %d", resp.StatusCode)
	}
}
