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

// Package health serves the monitoring surface: a liveness probe that grades
// the engine by its most recent run per source, and the session history the
// tracker retains.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"stocksync/internal/stocksync/core"
)

// Server handles the monitoring HTTP requests.
type Server struct {
	tracker *core.Tracker
}

func NewServer(tracker *core.Tracker) *Server {
	return &Server{tracker: tracker}
}

// RegisterRoutes sets up the HTTP routes on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
}

type sourceHealth struct {
	Status      core.SyncStatus `json:"status"`
	CompletedAt time.Time       `json:"completedAt"`
	Inserted    int             `json:"inserted"`
	Failed      int             `json:"failed"`
	Error       string          `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string                       `json:"status"`
	Sources map[core.Source]sourceHealth `json:"sources"`
	Active  int                          `json:"activeRuns"`
}

// handleHealth grades overall health from the last run per source: any FAILED
// last run degrades the report, which monitoring turns into an alert.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rep := s.tracker.Report()

	resp := healthResponse{
		Status:  "ok",
		Sources: make(map[core.Source]sourceHealth, len(rep.LastBySource)),
		Active:  len(rep.Active),
	}
	for source, sess := range rep.LastBySource {
		resp.Sources[source] = sourceHealth{
			Status:      sess.Status,
			CompletedAt: sess.CompletedAt,
			Inserted:    sess.Inserted,
			Failed:      sess.Failed,
			Error:       sess.Error,
		}
		if sess.Status == core.StatusFailed {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type sessionView struct {
	ID          string          `json:"id"`
	Source      core.Source     `json:"source"`
	SyncType    string          `json:"syncType"`
	Status      core.SyncStatus `json:"status"`
	Processed   int             `json:"processed"`
	Inserted    int             `json:"inserted"`
	Failed      int             `json:"failed"`
	APIRequests int             `json:"apiRequests"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	Error       string          `json:"error,omitempty"`
	Anomalies   []core.Anomaly  `json:"anomalies,omitempty"`
	Stages      []stageView     `json:"stages,omitempty"`
}

type stageView struct {
	Name       string `json:"name"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	DurationMS int64  `json:"durationMs"`
}

// handleSessions serves the retained session history, newest first, with
// in-flight runs listed separately.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rep := s.tracker.Report()
	writeJSON(w, http.StatusOK, map[string][]sessionView{
		"active": viewSessions(rep.Active),
		"recent": viewSessions(rep.Recent),
	})
}

func viewSessions(sessions []core.SyncSession) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		v := sessionView{
			ID:          sess.ID.String(),
			Source:      sess.Source,
			SyncType:    sess.SyncType,
			Status:      sess.Status,
			Processed:   sess.Processed,
			Inserted:    sess.Inserted,
			Failed:      sess.Failed,
			APIRequests: sess.APIRequests,
			StartedAt:   sess.StartedAt,
			CompletedAt: sess.CompletedAt,
			Error:       sess.Error,
			Anomalies:   sess.Anomalies,
		}
		for _, st := range sess.Stages {
			v.Stages = append(v.Stages, stageView{
				Name:       st.Name,
				Processed:  st.Processed,
				Succeeded:  st.Succeeded,
				DurationMS: st.Duration.Milliseconds(),
			})
		}
		out = append(out, v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
