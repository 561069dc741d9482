package retry

import (
	"testing"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

// =============================================================================
// Schedule Tests
// =============================================================================

func TestDefaultSchedule(t *testing.T) {
	if MaxRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", MaxRetries)
	}

	expected := []time.Duration{15 * time.Second, time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour}
	for i, want := range expected {
		if got := GetRetryDelay(i); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestGetDelay_ClampsToLastEntry(t *testing.T) {
	s := Schedule{time.Second, 2 * time.Second, 3 * time.Second}

	for i := 0; i < 50; i++ {
		idx := min(i, len(s)-1)
		if got := s.GetDelay(i); got != s[idx] {
			t.Errorf("attempt %d: expected %v, got %v", i, s[idx], got)
		}
	}

	if got := s.GetDelay(-3); got != time.Second {
		t.Errorf("negative attempt should map to first entry, got %v", got)
	}
	if got := (Schedule{}).GetDelay(2); got != 0 {
		t.Errorf("empty schedule should yield 0, got %v", got)
	}
}

func TestShouldRetry(t *testing.T) {
	s := Schedule{time.Second, time.Second, time.Second}

	tests := []struct {
		name    string
		status  domain.Status
		attempt int
		want    bool
	}{
		{"retry first attempt", domain.StatusRetry, 0, true},
		{"retry last allowed", domain.StatusRetry, 2, true},
		{"retry at max", domain.StatusRetry, 3, false},
		{"retry beyond max", domain.StatusRetry, 7, false},
		{"error never retried", domain.StatusError, 0, false},
		{"success never retried", domain.StatusSuccess, 0, false},
		{"skipped never retried", domain.StatusSkipped, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ShouldRetry(tt.status, tt.attempt); got != tt.want {
				t.Errorf("ShouldRetry(%s, %d) = %v, want %v", tt.status, tt.attempt, got, tt.want)
			}
		})
	}

	if !s.Exhausted(domain.StatusRetry, 3) {
		t.Error("retry at max should be exhausted")
	}
	if s.Exhausted(domain.StatusError, 3) {
		t.Error("error result is terminal, not exhausted")
	}
}

func TestCountdown(t *testing.T) {
	s := Schedule{15 * time.Second, time.Minute}

	if got := s.Countdown(0, 0); got != 15*time.Second {
		t.Errorf("expected schedule delay, got %v", got)
	}
	if got := s.Countdown(0, 2*time.Second); got != 15*time.Second {
		t.Errorf("shorter hint should not win, got %v", got)
	}
	if got := s.Countdown(0, 30200*time.Millisecond); got != 31*time.Second {
		t.Errorf("hint should be rounded up, got %v", got)
	}
	if got := s.Countdown(5, 0); got != time.Minute {
		t.Errorf("expected clamped delay, got %v", got)
	}
}
