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

package persistence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"stocksync/internal/stocksync/core"

	redis "github.com/redis/go-redis/v9"
)

// RedisEvaler abstracts the minimal surface we need from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 (Cmdable.Eval) or any
// equivalent; tests use a scripted fake.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// GoRedisEvaler wraps github.com/redis/go-redis/v9 behind RedisEvaler.
type GoRedisEvaler struct{ c *redis.Client }

func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// Key layout helpers (public for interoperability with monitoring tooling).
func RedisLastSuccessKey(source core.Source) string {
	return fmt.Sprintf("stocksync:last_success:%s", source)
}
func RedisErrorWindowKey(source core.Source) string {
	return fmt.Sprintf("stocksync:api_errors:%s", source)
}

// setLastSuccessScript stores the unix timestamp with a generous TTL so
// abandoned sources eventually clean themselves up.
const setLastSuccessScript = `
redis.call('SET', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
return 1
`

const getLastSuccessScript = `
return redis.call('GET', KEYS[1])
`

// addAPIErrorsScript appends n error markers to the sorted set, scored by
// the current unix time, and trims everything older than the window.
const addAPIErrorsScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
for i = 1, n do
  redis.call('ZADD', key, now, ARGV[1] .. ':' .. ARGV[4] .. ':' .. i)
end
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('EXPIRE', key, window)
return n
`

// countAPIErrorsScript trims the window, then counts what remains.
const countAPIErrorsScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
return redis.call('ZCARD', key)
`

// RedisSyncState keeps the cross-run state in Redis: per-source last-success
// timestamps and a trailing window of API error markers. Both survive process
// restarts, which is what makes the stale-data and elevated-error checks
// meaningful in daemonized deployments.
type RedisSyncState struct {
	client RedisEvaler
	window time.Duration
	now    func() time.Time

	// nonce distinguishes markers written by different processes, calls
	// makes members unique across writes in the same second.
	nonce string
	calls atomic.Int64
}

func NewRedisSyncState(client RedisEvaler, window time.Duration) *RedisSyncState {
	if window <= 0 {
		window = time.Hour
	}
	return &RedisSyncState{
		client: client,
		window: window,
		now:    time.Now,
		nonce:  strconv.FormatInt(time.Now().UnixNano()%1_000_000, 10),
	}
}

func (r *RedisSyncState) LastSuccess(ctx context.Context, source core.Source) (time.Time, error) {
	res, err := r.client.Eval(ctx, getLastSuccessScript, []string{RedisLastSuccessKey(source)})
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get last success: %w", err)
	}
	s, ok := res.(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last success %q: %w", s, err)
	}
	return time.Unix(unix, 0), nil
}

func (r *RedisSyncState) SetLastSuccess(ctx context.Context, source core.Source, t time.Time) error {
	ttl := int64((30 * 24 * time.Hour).Seconds())
	_, err := r.client.Eval(ctx, setLastSuccessScript,
		[]string{RedisLastSuccessKey(source)},
		strconv.FormatInt(t.Unix(), 10), ttl)
	if err != nil {
		return fmt.Errorf("set last success: %w", err)
	}
	return nil
}

func (r *RedisSyncState) AddAPIErrors(ctx context.Context, source core.Source, n int) error {
	if n <= 0 {
		return nil
	}
	marker := r.nonce + ":" + strconv.FormatInt(r.calls.Add(1), 10)
	_, err := r.client.Eval(ctx, addAPIErrorsScript,
		[]string{RedisErrorWindowKey(source)},
		strconv.FormatInt(r.now().Unix(), 10), n, int64(r.window.Seconds()), marker)
	if err != nil {
		return fmt.Errorf("record api errors: %w", err)
	}
	return nil
}

func (r *RedisSyncState) APIErrorCount(ctx context.Context, source core.Source) (int, error) {
	res, err := r.client.Eval(ctx, countAPIErrorsScript,
		[]string{RedisErrorWindowKey(source)},
		strconv.FormatInt(r.now().Unix(), 10), int64(r.window.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("count api errors: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected ZCARD result %T", res)
	}
	return int(count), nil
}

// MemorySyncState is the in-process fallback used when no Redis address is
// configured. State does not survive restarts; the stale-data check then
// only covers the current process lifetime.
type MemorySyncState struct {
	mu          sync.Mutex
	window      time.Duration
	lastSuccess map[core.Source]time.Time
	errorTimes  map[core.Source][]time.Time
	now         func() time.Time
}

func NewMemorySyncState(window time.Duration) *MemorySyncState {
	if window <= 0 {
		window = time.Hour
	}
	return &MemorySyncState{
		window:      window,
		lastSuccess: make(map[core.Source]time.Time),
		errorTimes:  make(map[core.Source][]time.Time),
		now:         time.Now,
	}
}

func (m *MemorySyncState) LastSuccess(_ context.Context, source core.Source) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess[source], nil
}

func (m *MemorySyncState) SetLastSuccess(_ context.Context, source core.Source, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccess[source] = t
	return nil
}

func (m *MemorySyncState) AddAPIErrors(_ context.Context, source core.Source, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	times := m.prune(source, now)
	for i := 0; i < n; i++ {
		times = append(times, now)
	}
	m.errorTimes[source] = times
	return nil
}

func (m *MemorySyncState) APIErrorCount(_ context.Context, source core.Source) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	times := m.prune(source, m.now())
	m.errorTimes[source] = times
	return len(times), nil
}

// prune drops markers older than the window. Callers hold the lock.
func (m *MemorySyncState) prune(source core.Source, now time.Time) []time.Time {
	cutoff := now.Add(-m.window)
	times := m.errorTimes[source]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
