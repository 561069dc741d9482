package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, Wrap(rdb)
}

func newTestLimiter(t *testing.T, client *Client, limit int, period time.Duration) (*RateLimiter, *fakeClock) {
	t.Helper()
	l, err := NewRateLimiter(client, LimitConfig{Key: "test:bucket", Limit: limit, Period: period})
	if err != nil {
		t.Fatalf("NewRateLimiter failed: %v", err)
	}
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	l.now = clock.Now
	return l, clock
}

// =============================================================================
// Construction
// =============================================================================

func TestLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  LimitConfig
		ok   bool
	}{
		{"valid", LimitConfig{Key: "k", Limit: 1, Period: time.Second}, true},
		{"zero limit", LimitConfig{Key: "k", Limit: 0, Period: time.Second}, false},
		{"zero period", LimitConfig{Key: "k", Limit: 1}, false},
		{"negative period", LimitConfig{Key: "k", Limit: 1, Period: -time.Second}, false},
		{"empty key", LimitConfig{Limit: 1, Period: time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidLimit) {
				t.Errorf("expected ErrInvalidLimit, got %v", err)
			}
		})
	}
}

func TestOpenRateLimiter_Unreachable(t *testing.T) {
	_, err := OpenRateLimiter(
		Config{URL: "redis://127.0.0.1:1"},
		LimitConfig{Key: "k", Limit: 1, Period: time.Second},
	)
	if err == nil {
		t.Fatal("expected connectivity error")
	}
}

// =============================================================================
// Script path
// =============================================================================

func TestAcquire_LimitTwoPerMinute(t *testing.T) {
	_, client := newTestClient(t)
	l, _ := newTestLimiter(t, client, 2, 60*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, delay, err := l.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		if !ok || delay != 0 {
			t.Fatalf("acquire %d: expected (true, 0), got (%v, %v)", i, ok, delay)
		}
	}

	ok, delay, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("third acquire failed: %v", err)
	}
	if ok {
		t.Fatal("third acquire should be rejected")
	}
	if delay <= 0 || delay > 60*time.Second {
		t.Fatalf("expected 0 < delay <= 60s, got %v", delay)
	}
}

func TestAcquire_DelayReopensWindow(t *testing.T) {
	_, client := newTestClient(t)
	l, clock := newTestLimiter(t, client, 2, 10*time.Second)
	ctx := context.Background()

	_, _, _ = l.Acquire(ctx)
	clock.Advance(3 * time.Second)
	_, _, _ = l.Acquire(ctx)
	clock.Advance(1 * time.Second)

	ok, delay, err := l.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}
	// Oldest entry is 4s old in a 10s window.
	if delay != 6*time.Second {
		t.Fatalf("expected 6s delay, got %v", delay)
	}

	clock.Advance(delay)
	ok, _, err = l.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after delay failed: %v", err)
	}
	if !ok {
		t.Fatal("acquire after waiting the returned delay should be admitted")
	}
}

func TestAcquire_RejectionDoesNotInsert(t *testing.T) {
	mr, client := newTestClient(t)
	l, _ := newTestLimiter(t, client, 1, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, _ = l.Acquire(ctx)
	}

	members, err := mr.ZMembers("test:bucket")
	if err != nil {
		t.Fatalf("zmembers failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(members))
	}
	if ttl := mr.TTL("test:bucket"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected bucket ttl within window, got %v", ttl)
	}
}

func TestAcquire_WindowBoundUnderConcurrency(t *testing.T) {
	_, client := newTestClient(t)
	l, _ := newTestLimiter(t, client, 5, time.Minute)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := l.Acquire(ctx)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			if ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 5 {
		t.Fatalf("expected exactly 5 admissions, got %d", got)
	}
}

func TestAcquire_SlidingWindowSequence(t *testing.T) {
	_, client := newTestClient(t)
	l, clock := newTestLimiter(t, client, 3, 10*time.Second)
	ctx := context.Background()

	// One call per second for a minute: any trailing 10s window admits at most 3.
	var admitted []time.Time
	for i := 0; i < 60; i++ {
		ok, _, err := l.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if ok {
			admitted = append(admitted, clock.Now())
		}
		clock.Advance(time.Second)
	}

	for i := range admitted {
		inWindow := 0
		for j := range admitted {
			d := admitted[i].Sub(admitted[j])
			if d >= 0 && d < 10*time.Second {
				inWindow++
			}
		}
		if inWindow > 3 {
			t.Fatalf("window ending at %v admitted %d requests", admitted[i], inWindow)
		}
	}
	if len(admitted) == 0 {
		t.Fatal("expected some admissions")
	}
}

func TestAcquire_BackingStoreDown(t *testing.T) {
	mr, client := newTestClient(t)
	l, _ := newTestLimiter(t, client, 1, time.Second)
	mr.Close()

	if _, _, err := l.Acquire(context.Background()); err == nil {
		t.Fatal("expected connectivity error")
	}
}

// =============================================================================
// Optimistic fallback
// =============================================================================

func TestAcquire_FallsBackWhenScriptingUnavailable(t *testing.T) {
	_, client := newTestClient(t)
	l, _ := newTestLimiter(t, client, 2, time.Minute)
	ctx := context.Background()

	var evalCalls atomic.Int32
	l.eval = func(ctx context.Context, nowMs int64, member string) ([]int64, error) {
		evalCalls.Add(1)
		return nil, errors.New("ERR unknown command 'evalsha', with args beginning with:")
	}

	results := make([]bool, 0, 3)
	for i := 0; i < 3; i++ {
		ok, _, err := l.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		results = append(results, ok)
	}

	if !results[0] || !results[1] || results[2] {
		t.Fatalf("expected [true true false], got %v", results)
	}
	if evalCalls.Load() != 1 {
		t.Errorf("script should be tried once then disabled, got %d calls", evalCalls.Load())
	}
}

func TestAcquire_ScriptErrorIsNotFallback(t *testing.T) {
	_, client := newTestClient(t)
	l, _ := newTestLimiter(t, client, 2, time.Minute)
	l.eval = func(ctx context.Context, nowMs int64, member string) ([]int64, error) {
		return nil, errors.New("READONLY You can't write against a read only replica")
	}

	if _, _, err := l.Acquire(context.Background()); err == nil {
		t.Fatal("expected script error to propagate")
	}
	if l.scriptDisabled.Load() {
		t.Error("unrelated script errors must not disable scripting")
	}
}

func TestAcquireOptimistic_DelayMatchesScript(t *testing.T) {
	_, client := newTestClient(t)
	l, clock := newTestLimiter(t, client, 1, 10*time.Second)
	ctx := context.Background()

	nowMs := clock.Now().UnixMilli()
	ok, _, err := l.acquireOptimistic(ctx, nowMs, "a")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	clock.Advance(4 * time.Second)
	ok, delay, err := l.acquireOptimistic(ctx, clock.Now().UnixMilli(), "b")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if ok || delay != 6*time.Second {
		t.Fatalf("expected (false, 6s), got (%v, %v)", ok, delay)
	}

	clock.Advance(delay)
	ok, _, err = l.acquireOptimistic(ctx, clock.Now().UnixMilli(), "c")
	if err != nil || !ok {
		t.Fatalf("acquire after delay: ok=%v err=%v", ok, err)
	}
}

func TestAcquireOptimistic_BoundUnderConcurrency(t *testing.T) {
	_, client := newTestClient(t)
	l, clock := newTestLimiter(t, client, 3, time.Minute)
	l.conflictRetries = 50
	ctx := context.Background()
	nowMs := clock.Now().UnixMilli()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _, err := l.acquireOptimistic(ctx, nowMs, string(rune('a'+i)))
			if err != nil && !errors.Is(err, ErrContention) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				allowed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := allowed.Load(); got > 3 {
		t.Fatalf("expected at most 3 admissions, got %d", got)
	}
}

func TestIsScriptUnsupported(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("ERR unknown command 'EVALSHA'"), true},
		{errors.New("NOSCRIPT No matching script"), true},
		{errors.New("ERR scripting is disabled in this instance"), true},
		{errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		if got := isScriptUnsupported(tt.err); got != tt.want {
			t.Errorf("isScriptUnsupported(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// =============================================================================
// Connection ownership
// =============================================================================

func TestClose_SharedConnectionStaysOpen(t *testing.T) {
	_, client := newTestClient(t)
	l, _ := newTestLimiter(t, client, 1, time.Second)

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("shared client should remain usable: %v", err)
	}
}

func TestClose_OwnedConnectionIsReleased(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := OpenRateLimiter(
		Config{URL: "redis://" + mr.Addr()},
		LimitConfig{Key: "owned", Limit: 1, Period: time.Second},
	)
	if err != nil {
		t.Fatalf("OpenRateLimiter failed: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := l.rdb.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Fatalf("expected closed client, got %v", err)
	}
}
