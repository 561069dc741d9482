package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/moderation/metrics"
)

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 2 * time.Minute

// Work is the body of a unit of work.
type Work func(ctx context.Context, p Payload) domain.Result

// DeadLetterStore records work that ran out of attempts.
type DeadLetterStore interface {
	Add(ctx context.Context, dl *domain.DeadLetter) error
}

// Runner executes a unit of work and applies the retry policy to its result.
type Runner struct {
	queue       Queue
	policy      retry.Schedule
	deadLetters DeadLetterStore
	timeout     time.Duration
	log         *slog.Logger
}

// NewRunner creates a runner. deadLetters may be nil.
func NewRunner(q Queue, policy retry.Schedule, deadLetters DeadLetterStore, timeout time.Duration) *Runner {
	if len(policy) == 0 {
		policy = retry.DefaultSchedule
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		queue:       q,
		policy:      policy,
		deadLetters: deadLetters,
		timeout:     timeout,
		log:         slog.Default().With("component", "runner"),
	}
}

// Policy returns the retry schedule in use.
func (r *Runner) Policy() retry.Schedule {
	return r.policy
}

// Run executes work once. A "retry" result is re-enqueued with attempt+1
// while attempts remain; at the cutoff it is returned unchanged and recorded
// as a dead letter.
func (r *Runner) Run(ctx context.Context, task string, p Payload, work Work) domain.Result {
	start := time.Now()
	log := r.log.With("task", task, "comment_id", p.CommentID, "work_id", p.WorkID, "attempt", p.Attempt)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	result := work(runCtx, p)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if timedOut && result.Status == domain.StatusError {
		result = domain.Retry(fmt.Sprintf("timed out after %s: %s", r.timeout, result.Reason), 0)
	}

	metrics.TasksExecuted.WithLabelValues(task, string(result.Status)).Inc()
	metrics.TaskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())

	switch {
	case r.policy.ShouldRetry(result.Status, p.Attempt):
		r.reschedule(ctx, task, p, result, log)
	case r.policy.Exhausted(result.Status, p.Attempt):
		r.deadLetter(ctx, task, p, result, log)
	case result.Status == domain.StatusError:
		log.Error("Task failed", "reason", result.Reason)
	default:
		log.Info("Task completed", "status", result.Status, "reason", result.Reason)
	}
	return result
}

func (r *Runner) reschedule(ctx context.Context, task string, p Payload, result domain.Result, log *slog.Logger) {
	delay := r.policy.Countdown(p.Attempt, result.RetryAfter)
	next := p
	next.Attempt++

	// The re-enqueue must survive the caller's cancellation.
	if err := r.queue.Enqueue(context.WithoutCancel(ctx), task, next, delay); err != nil {
		metrics.EnqueueFailures.WithLabelValues(task).Inc()
		log.Error("Failed to schedule retry", "reason", result.Reason, "error", err)
		return
	}
	metrics.TaskRetriesScheduled.WithLabelValues(task).Inc()
	log.Warn("Retry scheduled",
		"reason", result.Reason,
		"retry_after", result.RetryAfter,
		"next_attempt", next.Attempt,
		"delay", delay,
	)
}

func (r *Runner) deadLetter(ctx context.Context, task string, p Payload, result domain.Result, log *slog.Logger) {
	metrics.TaskDeadLetters.WithLabelValues(task).Inc()
	log.Error("Retries exhausted", "reason", result.Reason, "max_retries", r.policy.MaxRetries())
	if r.deadLetters == nil {
		return
	}
	dl := &domain.DeadLetter{
		Task:      task,
		WorkID:    p.WorkID,
		CommentID: p.CommentID,
		Attempt:   p.Attempt,
		Reason:    result.Reason,
	}
	if err := r.deadLetters.Add(context.WithoutCancel(ctx), dl); err != nil {
		log.Error("Failed to record dead letter", "error", err)
	}
}
