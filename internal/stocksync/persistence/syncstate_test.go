package persistence

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"stocksync/internal/stocksync/core"
)

type fakeRedisEvaler struct {
	calls []struct {
		script string
		keys   []string
		args   []interface{}
	}
	returnVal interface{}
	returnErr error
}

func (f *fakeRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if f.returnErr != nil {
		return nil, f.returnErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f.calls = append(f.calls, struct {
		script string
		keys   []string
		args   []interface{}
	}{script: script, keys: append([]string{}, keys...), args: append([]interface{}{}, args...)})
	return f.returnVal, nil
}

func TestRedisKeyHelpers(t *testing.T) {
	if got, want := RedisLastSuccessKey(core.SourceOzon), "stocksync:last_success:ozon"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got, want := RedisErrorWindowKey(core.SourceWildberries), "stocksync:api_errors:wildberries"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRedisSyncState_SetAndGetLastSuccess(t *testing.T) {
	now := time.Unix(1_770_000_000, 0)
	f := &fakeRedisEvaler{returnVal: int64(1)}
	s := NewRedisSyncState(f, time.Hour)

	if err := s.SetLastSuccess(context.Background(), core.SourceOzon, now); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected 1 eval, got %d", len(f.calls))
	}
	if f.calls[0].keys[0] != RedisLastSuccessKey(core.SourceOzon) {
		t.Fatalf("wrong key: %v", f.calls[0].keys)
	}
	if f.calls[0].args[0] != strconv.FormatInt(now.Unix(), 10) {
		t.Fatalf("wrong timestamp arg: %v", f.calls[0].args)
	}

	f.returnVal = strconv.FormatInt(now.Unix(), 10)
	got, err := s.LastSuccess(context.Background(), core.SourceOzon)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("got %v want %v", got, now)
	}
}

func TestRedisSyncState_LastSuccessMissing(t *testing.T) {
	f := &fakeRedisEvaler{returnVal: nil}
	s := NewRedisSyncState(f, time.Hour)
	got, err := s.LastSuccess(context.Background(), core.SourceOzon)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero time, got %v", got)
	}
}

func TestRedisSyncState_AddAPIErrors(t *testing.T) {
	f := &fakeRedisEvaler{returnVal: int64(3)}
	s := NewRedisSyncState(f, time.Hour)

	if err := s.AddAPIErrors(context.Background(), core.SourceOzon, 3); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected 1 eval, got %d", len(f.calls))
	}
	if !strings.Contains(f.calls[0].script, "ZADD") {
		t.Fatalf("expected ZADD script, got: %s", f.calls[0].script)
	}

	// Zero additions never hit Redis.
	if err := s.AddAPIErrors(context.Background(), core.SourceOzon, 0); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected no extra eval for n=0")
	}
}

func TestRedisSyncState_APIErrorCount(t *testing.T) {
	f := &fakeRedisEvaler{returnVal: int64(7)}
	s := NewRedisSyncState(f, time.Hour)

	n, err := s.APIErrorCount(context.Background(), core.SourceWildberries)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if n != 7 {
		t.Fatalf("got %d want 7", n)
	}
	if !strings.Contains(f.calls[0].script, "ZCARD") {
		t.Fatalf("expected ZCARD script, got: %s", f.calls[0].script)
	}
}

func TestRedisSyncState_EvalError(t *testing.T) {
	f := &fakeRedisEvaler{returnErr: errors.New("conn refused")}
	s := NewRedisSyncState(f, time.Hour)
	if _, err := s.APIErrorCount(context.Background(), core.SourceOzon); err == nil {
		t.Fatalf("expected error")
	}
	if err := s.SetLastSuccess(context.Background(), core.SourceOzon, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMemorySyncState_WindowPruning(t *testing.T) {
	s := NewMemorySyncState(time.Hour)
	base := time.Unix(1_770_000_000, 0)
	s.now = func() time.Time { return base }

	if err := s.AddAPIErrors(context.Background(), core.SourceOzon, 5); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	n, _ := s.APIErrorCount(context.Background(), core.SourceOzon)
	if n != 5 {
		t.Fatalf("got %d want 5", n)
	}

	// Half the window later the markers survive.
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	if err := s.AddAPIErrors(context.Background(), core.SourceOzon, 2); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	n, _ = s.APIErrorCount(context.Background(), core.SourceOzon)
	if n != 7 {
		t.Fatalf("got %d want 7", n)
	}

	// Past the window only the fresher batch remains.
	s.now = func() time.Time { return base.Add(75 * time.Minute) }
	n, _ = s.APIErrorCount(context.Background(), core.SourceOzon)
	if n != 2 {
		t.Fatalf("got %d want 2", n)
	}
}

func TestMemorySyncState_LastSuccess(t *testing.T) {
	s := NewMemorySyncState(time.Hour)
	got, _ := s.LastSuccess(context.Background(), core.SourceOzon)
	if !got.IsZero() {
		t.Fatalf("expected zero time for unseen source")
	}
	at := time.Now()
	if err := s.SetLastSuccess(context.Background(), core.SourceOzon, at); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	got, _ = s.LastSuccess(context.Background(), core.SourceOzon)
	if !got.Equal(at) {
		t.Fatalf("got %v want %v", got, at)
	}
}
