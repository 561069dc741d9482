package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lun1tunes/instachatico/internal/moderation/metrics"
)

var (
	// ErrContention is returned when the optimistic fallback loses every
	// attempt to concurrent writers. The request is not admitted.
	ErrContention = errors.New("rate limiter contention")

	// ErrInvalidLimit is returned for a non-positive limit or period.
	ErrInvalidLimit = errors.New("invalid rate limit")
)

const (
	// minRetryAfter is returned when the computed delay is not positive.
	minRetryAfter = 10 * time.Millisecond

	defaultConflictRetries = 5
	conflictBackoff        = 5 * time.Millisecond
)

// Prune, count and conditionally insert in one round trip.
// Returns {1, 0} when admitted or {0, delay_ms} when rejected.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local delay = window
if oldest[2] then
	delay = tonumber(oldest[2]) + window - now
end
return {0, delay}
`)

// LimitConfig describes one sliding-window quota.
type LimitConfig struct {
	Key             string        `yaml:"key"`
	Limit           int           `yaml:"limit"`
	Period          time.Duration `yaml:"period"`
	ConflictRetries int           `yaml:"conflict_retries"`
}

// Validate checks limit >= 1 and period > 0.
func (c LimitConfig) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidLimit)
	}
	if c.Limit < 1 {
		return fmt.Errorf("%w: limit must be >= 1, got %d", ErrInvalidLimit, c.Limit)
	}
	if c.Period <= 0 {
		return fmt.Errorf("%w: period must be > 0, got %s", ErrInvalidLimit, c.Period)
	}
	return nil
}

// RateLimiter admits at most Limit requests per trailing Period for one key,
// across every process sharing the Redis instance.
type RateLimiter struct {
	rdb             *redis.Client
	key             string
	limit           int
	period          time.Duration
	conflictRetries int
	ownsConn        bool
	scriptDisabled  atomic.Bool
	log             *slog.Logger

	now      func() time.Time
	memberID func() string
	eval     func(ctx context.Context, nowMs int64, member string) ([]int64, error)
}

// NewRateLimiter creates a limiter on a shared client. Close leaves the client open.
func NewRateLimiter(client *Client, cfg LimitConfig) (*RateLimiter, error) {
	return newRateLimiter(client.rdb, cfg, false)
}

// OpenRateLimiter dials its own connection, released by Close.
// Connectivity failures are returned as-is.
func OpenRateLimiter(redisCfg Config, cfg LimitConfig) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rdb, err := dial(redisCfg)
	if err != nil {
		return nil, err
	}
	l, err := newRateLimiter(rdb, cfg, true)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return l, nil
}

func newRateLimiter(rdb *redis.Client, cfg LimitConfig, owns bool) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	retries := cfg.ConflictRetries
	if retries <= 0 {
		retries = defaultConflictRetries
	}

	l := &RateLimiter{
		rdb:             rdb,
		key:             cfg.Key,
		limit:           cfg.Limit,
		period:          cfg.Period,
		conflictRetries: retries,
		ownsConn:        owns,
		log:             slog.Default().With("component", "rate_limiter", "key", cfg.Key),
		now:             time.Now,
		memberID:        uuid.NewString,
	}
	l.eval = l.evalScript
	return l, nil
}

// Key returns the bucket key.
func (l *RateLimiter) Key() string {
	return l.key
}

// Acquire records one request attempt. When rejected, retryAfter is the time
// until the oldest admitted entry leaves the window.
func (l *RateLimiter) Acquire(ctx context.Context) (allowed bool, retryAfter time.Duration, err error) {
	nowMs := l.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, l.memberID())

	if !l.scriptDisabled.Load() {
		res, err := l.eval(ctx, nowMs, member)
		if err == nil {
			allowed, retryAfter = l.decode(res)
			l.record(allowed)
			return allowed, retryAfter, nil
		}
		if !isScriptUnsupported(err) {
			return false, 0, fmt.Errorf("rate limiter script failed: %w", err)
		}
		l.scriptDisabled.Store(true)
		l.log.Warn("Scripting unavailable, falling back to optimistic transactions", "error", err)
	}

	allowed, retryAfter, err = l.acquireOptimistic(ctx, nowMs, member)
	if err != nil {
		return false, 0, err
	}
	l.record(allowed)
	return allowed, retryAfter, nil
}

// Close releases the connection only when the limiter opened it.
func (l *RateLimiter) Close() error {
	if !l.ownsConn {
		return nil
	}
	return l.rdb.Close()
}

func (l *RateLimiter) evalScript(ctx context.Context, nowMs int64, member string) ([]int64, error) {
	return acquireScript.Run(
		ctx,
		l.rdb,
		[]string{l.key},
		nowMs,
		l.period.Milliseconds(),
		l.limit,
		member,
	).Int64Slice()
}

func (l *RateLimiter) decode(res []int64) (bool, time.Duration) {
	if len(res) < 2 {
		return false, minRetryAfter
	}
	if res[0] == 1 {
		return true, 0
	}
	return false, floorDelay(time.Duration(res[1]) * time.Millisecond)
}

// acquireOptimistic is the WATCH/MULTI/EXEC rendition of the script, retried
// a bounded number of times when another writer touches the bucket.
func (l *RateLimiter) acquireOptimistic(ctx context.Context, nowMs int64, member string) (bool, time.Duration, error) {
	windowMs := l.period.Milliseconds()
	cutoff := strconv.FormatInt(nowMs-windowMs, 10)
	live := "(" + cutoff

	var (
		allowed    bool
		retryAfter time.Duration
	)

	txf := func(tx *redis.Tx) error {
		count, err := tx.ZCount(ctx, l.key, live, "+inf").Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("zcount failed: %w", err))
		}

		if count >= int64(l.limit) {
			oldest, err := tx.ZRangeByScoreWithScores(ctx, l.key, &redis.ZRangeBy{
				Min:   live,
				Max:   "+inf",
				Count: 1,
			}).Result()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("zrangebyscore failed: %w", err))
			}
			delay := time.Duration(windowMs) * time.Millisecond
			if len(oldest) > 0 {
				delay = time.Duration(int64(oldest[0].Score)+windowMs-nowMs) * time.Millisecond
			}
			// Prune only; a rejection never inserts.
			if err := tx.ZRemRangeByScore(ctx, l.key, "-inf", cutoff).Err(); err != nil {
				return backoff.Permanent(fmt.Errorf("zremrangebyscore failed: %w", err))
			}
			allowed, retryAfter = false, floorDelay(delay)
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, l.key, "-inf", cutoff)
			pipe.ZAdd(ctx, l.key, redis.Z{Score: float64(nowMs), Member: member})
			pipe.PExpire(ctx, l.key, l.period)
			return nil
		})
		if err != nil {
			if errors.Is(err, redis.TxFailedErr) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("exec failed: %w", err))
		}
		allowed, retryAfter = true, 0
		return nil
	}

	attempts := 0
	op := func() error {
		attempts++
		return l.rdb.Watch(ctx, txf, l.key)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(conflictBackoff), uint64(l.conflictRetries)),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return false, 0, fmt.Errorf("%w: key %s after %d attempts", ErrContention, l.key, attempts)
		}
		return false, 0, err
	}
	return allowed, retryAfter, nil
}

func (l *RateLimiter) record(allowed bool) {
	decision := "rejected"
	if allowed {
		decision = "allowed"
	}
	metrics.RateLimiterDecisions.WithLabelValues(l.key, decision).Inc()
}

func floorDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return minRetryAfter
	}
	return d
}

// isScriptUnsupported recognises servers or proxies without EVAL/EVALSHA.
func isScriptUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown command") ||
		strings.Contains(msg, "noscript") ||
		strings.Contains(msg, "scripting is disabled")
}
