package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

const (
	// DefaultStuckAfter is how long a classification may stay PROCESSING.
	DefaultStuckAfter = 10 * time.Minute
	// DefaultBatchSize caps how many rows one sweep re-queues per status.
	DefaultBatchSize = 100
)

// SweeperConfig tunes the sweep.
type SweeperConfig struct {
	StuckAfter time.Duration `yaml:"stuck_after"`
	BatchSize  int           `yaml:"batch_size"`
}

// Sweeper re-queues classifications whose task never reported back.
type Sweeper struct {
	cfg             SweeperConfig
	classifications storage.ClassificationRepository
	queue           tasks.Queue
	schedule        retry.Schedule
	now             func() time.Time
	log             *slog.Logger
}

// NewSweeper creates a new Sweeper.
func NewSweeper(
	cfg SweeperConfig,
	classifications storage.ClassificationRepository,
	queue tasks.Queue,
	schedule retry.Schedule,
) *Sweeper {
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = DefaultStuckAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if len(schedule) == 0 {
		schedule = retry.DefaultSchedule
	}
	return &Sweeper{
		cfg:             cfg,
		classifications: classifications,
		queue:           queue,
		schedule:        schedule,
		now:             func() time.Time { return time.Now().UTC() },
		log:             slog.Default().With("component", "sweeper"),
	}
}

// Sweep re-queues RETRY rows whose scheduled retry should already have run,
// and PENDING or PROCESSING rows older than the stuck threshold. It returns how
// many tasks were enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.StuckAfter)

	retrying, err := s.classifications.ListByStatus(ctx, domain.ProcessingRetry, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list retry classifications: %w", err)
	}
	// Never picked up: the ingest hand-off was lost.
	waiting, err := s.classifications.ListStale(ctx, domain.ProcessingPending, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending classifications: %w", err)
	}
	stuck, err := s.classifications.ListStale(ctx, domain.ProcessingProcessing, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck classifications: %w", err)
	}

	queued := 0
	for _, c := range retrying {
		// The runner's own re-enqueue is still due.
		if c.ProcessingStartedAt != nil &&
			now.Before(c.ProcessingStartedAt.Add(s.schedule.GetDelay(c.RetryCount)+s.cfg.StuckAfter)) {
			continue
		}
		if s.requeue(ctx, c, c.RetryCount+1) {
			queued++
		}
	}
	for _, c := range waiting {
		if s.requeue(ctx, c, c.RetryCount) {
			queued++
		}
	}
	for _, c := range stuck {
		if s.requeue(ctx, c, c.RetryCount+1) {
			queued++
		}
	}

	if queued > 0 || len(retrying)+len(waiting)+len(stuck) > 0 {
		s.log.Info("Sweep complete",
			"retry_rows", len(retrying),
			"pending_rows", len(waiting),
			"stuck_rows", len(stuck),
			"queued", queued,
		)
	}
	return queued, nil
}

func (s *Sweeper) requeue(ctx context.Context, c *domain.Classification, attempt int) bool {
	log := s.log.With("comment_id", c.CommentID, "status", c.ProcessingStatus, "retry_count", c.RetryCount)

	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.schedule.MaxRetries()
	}
	if attempt > maxRetries {
		completed := s.now()
		c.ProcessingStatus = domain.ProcessingFailed
		c.ProcessingCompletedAt = &completed
		c.LastError = domain.Ptr("retries_exhausted")
		if err := s.classifications.Save(ctx, c); err != nil {
			log.Error("Failed to mark classification failed", "error", err)
		} else {
			log.Warn("Classification retries exhausted")
		}
		return false
	}

	// One work id per comment and attempt, so repeated sweeps collapse.
	p := tasks.Payload{
		WorkID:    "sweep-" + c.CommentID,
		CommentID: c.CommentID,
		Attempt:   attempt,
	}
	if err := s.queue.Enqueue(ctx, tasks.TaskClassifyComment, p, 0); err != nil {
		log.Error("Failed to re-queue classification", "error", err)
		return false
	}
	log.Info("Classification re-queued", "attempt", attempt)
	return true
}
