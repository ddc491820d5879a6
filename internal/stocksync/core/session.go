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
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker owns the session lifecycle: it creates sessions, keeps the active
// ones visible, and retains a bounded window of completed ones for the
// health endpoint.
type Tracker struct {
	mu     sync.Mutex
	active map[uuid.UUID]*RunSession
	recent []SyncSession
	keep   int
	now    func() time.Time
}

// NewTracker retains up to keep completed sessions, newest first.
func NewTracker(keep int) *Tracker {
	if keep < 1 {
		keep = 50
	}
	return &Tracker{
		active: make(map[uuid.UUID]*RunSession),
		keep:   keep,
		now:    time.Now,
	}
}

// Start opens a session for one run. The returned handle is owned by that
// run; every session ends in exactly one Finish call.
func (t *Tracker) Start(source Source, syncType string) *RunSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &RunSession{
		tracker: t,
		session: SyncSession{
			ID:        uuid.New(),
			Source:    source,
			SyncType:  syncType,
			StartedAt: t.now(),
		},
	}
	t.active[r.session.ID] = r
	return r
}

// complete moves a finished session out of the active set.
func (t *Tracker) complete(s SyncSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.active, s.ID)
	t.recent = append([]SyncSession{s}, t.recent...)
	if len(t.recent) > t.keep {
		t.recent = t.recent[:t.keep]
	}
}

// HealthReport is the tracker state the health endpoint serves.
type HealthReport struct {
	Active       []SyncSession
	Recent       []SyncSession
	LastBySource map[Source]SyncSession
}

// Report snapshots the tracker. Recent sessions are newest first.
func (t *Tracker) Report() HealthReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	rep := HealthReport{
		Recent:       make([]SyncSession, len(t.recent)),
		LastBySource: make(map[Source]SyncSession),
	}
	copy(rep.Recent, t.recent)
	for _, r := range t.active {
		rep.Active = append(rep.Active, r.snapshot())
	}
	for i := len(t.recent) - 1; i >= 0; i-- {
		s := t.recent[i]
		rep.LastBySource[s.Source] = s
	}
	return rep
}

// RunSession is the mutable handle of one in-flight run. All mutation goes
// through its methods; the embedded SyncSession is never shared directly.
type RunSession struct {
	tracker *Tracker

	mu      sync.Mutex
	done    bool
	session SyncSession
}

func (r *RunSession) ID() uuid.UUID { return r.session.ID }

// AddAPIRequests bumps the request counter by n.
func (r *RunSession) AddAPIRequests(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.session.APIRequests += n
}

// AddAnomalies attaches the detector's findings to the session.
func (r *RunSession) AddAnomalies(anomalies []Anomaly) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.session.Anomalies = append(r.session.Anomalies, anomalies...)
}

// RecordStage appends one pipeline stage outcome.
func (r *RunSession) RecordStage(name string, processed, succeeded int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.session.Stages = append(r.session.Stages, StageResult{
		Name:      name,
		Processed: processed,
		Succeeded: succeeded,
		Duration:  d,
	})
}

// Finish finalizes the session exactly once and returns the terminal
// snapshot. Later calls are no-ops returning the already-final state, so a
// deferred safety Finish cannot overwrite the real outcome.
func (r *RunSession) Finish(status SyncStatus, processed, inserted, failed int, runErr error) SyncSession {
	r.mu.Lock()
	if r.done {
		s := r.session
		r.mu.Unlock()
		return s
	}
	r.done = true
	r.session.Status = status
	r.session.Processed = processed
	r.session.Inserted = inserted
	r.session.Failed = failed
	r.session.CompletedAt = r.tracker.now()
	if runErr != nil {
		r.session.Error = runErr.Error()
	}
	final := r.session
	r.mu.Unlock()

	r.tracker.complete(final)
	return final
}

// snapshot copies the current state for read-only reporting.
func (r *RunSession) snapshot() SyncSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}
