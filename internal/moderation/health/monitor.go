package health

import (
	"context"
	"sync"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

const (
	cacheFor     = 10 * time.Second
	checkTimeout = 3 * time.Second
)

// Pinger is a dependency that answers a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// DeadLetterCounter counts exhausted units of work.
type DeadLetterCounter interface {
	Count(ctx context.Context) (int, error)
}

// StatusCounter counts classifications per status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[domain.ProcessingStatus]int, error)
}

// Thresholds turn backlog sizes into degraded status.
type Thresholds struct {
	DeadLetters  int
	RetryBacklog int
}

// Monitor aggregates health status from the service dependencies.
type Monitor struct {
	pingers         map[string]Pinger
	deadLetters     DeadLetterCounter
	classifications StatusCounter
	thresholds      Thresholds
	lastCheck       time.Time
	lastReport      HealthReport
	mu              sync.Mutex
}

// NewMonitor creates a new health monitor. Failing pingers are critical.
func NewMonitor(
	pingers map[string]Pinger,
	deadLetters DeadLetterCounter,
	classifications StatusCounter,
	thresholds Thresholds,
) *Monitor {
	if thresholds.RetryBacklog <= 0 {
		thresholds.RetryBacklog = 100
	}
	return &Monitor{
		pingers:         pingers,
		deadLetters:     deadLetters,
		classifications: classifications,
		thresholds:      thresholds,
	}
}

// CheckHealth runs every check, at most once per cacheFor.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < cacheFor && m.lastReport.Components != nil {
		return m.lastReport
	}

	components := make(map[string]ComponentHealth)

	for name, p := range m.pingers {
		h := ComponentHealth{Name: name, Status: StatusHealthy}
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := p.Ping(checkCtx)
		cancel()
		h.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			h.Status = StatusCritical
			h.Error = err.Error()
		}
		components[name] = h
	}

	if m.deadLetters != nil {
		h := ComponentHealth{Name: "dead_letters", Status: StatusHealthy}
		count, err := m.deadLetters.Count(ctx)
		switch {
		case err != nil:
			h.Status = StatusDegraded
			h.Error = err.Error()
		case count > m.thresholds.DeadLetters:
			h.Status = StatusDegraded
		}
		h.Count = &count
		components[h.Name] = h
	}

	if m.classifications != nil {
		h := ComponentHealth{Name: "classifications", Status: StatusHealthy}
		counts, err := m.classifications.CountByStatus(ctx)
		if err != nil {
			h.Status = StatusDegraded
			h.Error = err.Error()
		} else {
			backlog := counts[domain.ProcessingRetry]
			h.Count = &backlog
			if backlog > m.thresholds.RetryBacklog {
				h.Status = StatusDegraded
			}
		}
		components[h.Name] = h
	}

	m.lastCheck = time.Now()
	m.lastReport = HealthReport{
		SystemStatus: worst(components),
		Components:   components,
	}
	return m.lastReport
}
