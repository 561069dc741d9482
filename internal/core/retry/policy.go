// Package retry holds the fixed-schedule retry policy shared by every task.
package retry

import (
	"math"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

// DefaultSchedule is 15s, 1m, 5m, 15m, 1h.
var DefaultSchedule = Schedule{
	15 * time.Second,
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
}

// MaxRetries is the length of DefaultSchedule.
var MaxRetries = DefaultSchedule.MaxRetries()

// GetRetryDelay looks up the default schedule.
func GetRetryDelay(attempt int) time.Duration {
	return DefaultSchedule.GetDelay(attempt)
}

// Schedule is an ordered list of delays. Attempt i waits Schedule[min(i, N-1)].
type Schedule []time.Duration

// MaxRetries is the number of entries in the schedule.
func (s Schedule) MaxRetries() int {
	return len(s)
}

// GetDelay never indexes out of bounds: past the end it repeats the last entry.
func (s Schedule) GetDelay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(s) {
		return s[len(s)-1]
	}
	return s[attempt]
}

// ShouldRetry only re-submits "retry" results while attempts remain.
// "error" results are never retried here.
func (s Schedule) ShouldRetry(status domain.Status, attempt int) bool {
	return status == domain.StatusRetry && attempt < s.MaxRetries()
}

// Countdown is the delay before re-submission: the scheduled delay, or the
// collaborator's retry-after hint rounded up to whole seconds if that is longer.
func (s Schedule) Countdown(attempt int, retryAfter time.Duration) time.Duration {
	delay := s.GetDelay(attempt)
	if retryAfter > 0 {
		hint := time.Duration(math.Ceil(retryAfter.Seconds())) * time.Second
		if hint > delay {
			return hint
		}
	}
	return delay
}

// Exhausted reports a retry result that the policy refuses to re-submit.
func (s Schedule) Exhausted(status domain.Status, attempt int) bool {
	return status == domain.StatusRetry && attempt >= s.MaxRetries()
}
