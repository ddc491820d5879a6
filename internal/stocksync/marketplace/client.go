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

// Package marketplace contains the HTTP clients for the stock feeds: a
// retrying client that classifies failures before deciding to retry, and the
// per-marketplace request/response codecs built on top of it.
package marketplace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Attempt describes one physical request attempt, success or failure.
// Observers receive every attempt so that sessions, metrics, and the
// trailing error window stay in agreement about the request count.
type Attempt struct {
	StatusCode int
	Latency    time.Duration
	Err        error
}

// AttemptObserver is invoked once per attempt. Must be safe for use from a
// single fetch goroutine; the client never calls it concurrently.
type AttemptObserver func(a Attempt)

// RetryPolicy bounds the retrying client. The zero value is unusable; use
// DefaultRetryPolicy or fill every field.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	JitterFraction  float64
}

// DefaultRetryPolicy mirrors the production defaults: three attempts,
// exponential backoff from 1s capped at 30s, ±20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		JitterFraction:  0.2,
	}
}

// Delay computes the backoff before retry number attempt (0-based), without
// jitter applied.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if ceil := float64(p.MaxDelay); d > ceil {
		d = ceil
	}
	return time.Duration(d)
}

// Client executes one logical request against a marketplace endpoint with
// classified retry behavior. It is the only component that talks HTTP; the
// per-marketplace codecs build requests and parse bodies.
type Client struct {
	http     *http.Client
	policy   RetryPolicy
	log      *slog.Logger
	observer AttemptObserver

	// retryAfterHint holds the server-provided Retry-After from the most
	// recent 429, consumed by the next backoff decision. The client is used
	// from a single fetch goroutine per source, so plain field access is fine.
	retryAfterHint time.Duration

	// sleep is swapped out by tests; production uses a context-aware wait.
	sleep func(ctx context.Context, d time.Duration) error

	requests atomic.Int64
	errors   atomic.Int64
}

// NewClient builds a retrying client. observer may be nil.
func NewClient(hc *http.Client, policy RetryPolicy, log *slog.Logger, observer AttemptObserver) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		http:     hc,
		policy:   policy,
		log:      log,
		observer: observer,
		sleep:    sleepCtx,
	}
}

// Do executes one logical request. build must construct a fresh
// *http.Request each call (bodies are consumed per attempt).
//
// On success the response body is returned. On failure the error is always
// an *ErrorContext: fatal kinds (auth, other 4xx) return after the first
// attempt; retryable kinds return only once the attempt budget is spent.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	var last *ErrorContext

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(last, attempt-1)
			c.log.Debug("retrying request",
				"attempt", attempt+1,
				"delay", delay,
				"kind", last.Kind)
			if err := c.sleep(ctx, delay); err != nil {
				last.Message = fmt.Sprintf("%s (canceled while waiting to retry)", last.Message)
				return nil, last
			}
		}

		body, status, latency, err := c.attempt(ctx, build)
		c.observe(Attempt{StatusCode: status, Latency: latency, Err: err})

		if err == nil {
			return body, nil
		}

		kind := classify(status, err)
		last = &ErrorContext{
			Kind:        kind,
			Message:     err.Error(),
			Attempts:    attempt + 1,
			MaxAttempts: c.policy.MaxAttempts,
			StatusCode:  status,
		}
		if !kind.Retryable() {
			c.log.Warn("fatal API error", "status", status, "kind", kind, "error", err)
			return nil, last
		}
		if ctx.Err() != nil {
			return nil, last
		}
	}

	c.log.Warn("retry budget exhausted",
		"attempts", last.Attempts,
		"kind", last.Kind,
		"status", last.StatusCode)
	return nil, last
}

// attempt performs one physical request.
func (c *Client) attempt(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (body []byte, status int, latency time.Duration, err error) {
	start := time.Now()
	req, err := build(ctx)
	if err != nil {
		return nil, 0, time.Since(start), fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	latency = time.Since(start)
	if err != nil {
		return nil, 0, latency, err
	}
	defer resp.Body.Close()

	status = resp.StatusCode
	b, readErr := io.ReadAll(resp.Body)
	if status < 200 || status >= 300 {
		msg := fmt.Errorf("http status %d", status)
		if status == 429 {
			if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
				c.retryAfterHint = d
			}
		}
		return nil, status, latency, msg
	}
	if readErr != nil {
		return nil, status, latency, fmt.Errorf("read body: %w", readErr)
	}
	return b, status, latency, nil
}

// retryDelay picks the wait before the next attempt: the server's
// Retry-After hint when one was provided on a 429, otherwise exponential
// backoff with jitter.
func (c *Client) retryDelay(last *ErrorContext, attempt int) time.Duration {
	if last.Kind == KindRateLimited && c.retryAfterHint > 0 {
		hint := c.retryAfterHint
		c.retryAfterHint = 0
		if hint > c.policy.MaxDelay {
			hint = c.policy.MaxDelay
		}
		return hint
	}
	return jitter(c.policy.Delay(attempt), c.policy.JitterFraction)
}

func (c *Client) observe(a Attempt) {
	c.requests.Add(1)
	if a.Err != nil {
		c.errors.Add(1)
	}
	if c.observer != nil {
		c.observer(a)
	}
}

// TakeStats returns the attempt and failure counts accumulated since the
// previous call, and resets them. Sessions call this once per fetch.
func (c *Client) TakeStats() (requests, errors int) {
	return int(c.requests.Swap(0)), int(c.errors.Swap(0))
}

// jitter spreads d by ±frac.
func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	f := 1 + (rand.Float64()*2-1)*frac
	return time.Duration(f * float64(d))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
