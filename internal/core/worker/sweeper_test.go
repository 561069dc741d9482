package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/infra/storage/memory"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

type fakeQueue struct {
	mu       sync.Mutex
	payloads []tasks.Payload
	err      error
}

func (q *fakeQueue) Enqueue(ctx context.Context, task string, p tasks.Payload, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if task != tasks.TaskClassifyComment {
		return errors.New("unexpected task " + task)
	}
	q.payloads = append(q.payloads, p)
	return nil
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newSweeper(t *testing.T, rows ...*domain.Classification) (*Sweeper, *fakeQueue, *memory.ClassificationRepo) {
	t.Helper()
	repo := memory.NewClassificationRepo(memory.NewMemoryStorage())
	for _, c := range rows {
		if err := repo.Save(context.Background(), c); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	q := &fakeQueue{}
	s := NewSweeper(SweeperConfig{StuckAfter: 10 * time.Minute}, repo, q, retry.DefaultSchedule)
	s.now = func() time.Time { return now }
	return s, q, repo
}

func at(d time.Duration) *time.Time {
	ts := now.Add(-d)
	return &ts
}

func TestSweep_RequeuesStuckWork(t *testing.T) {
	s, q, _ := newSweeper(t,
		// retry 1 was due after 60s; long overdue
		&domain.Classification{CommentID: "retry-due", ProcessingStatus: domain.ProcessingRetry, RetryCount: 1, MaxRetries: 5, ProcessingStartedAt: at(time.Hour)},
		// retry 3 waits 15m, plus the stuck threshold
		&domain.Classification{CommentID: "retry-pending", ProcessingStatus: domain.ProcessingRetry, RetryCount: 3, MaxRetries: 5, ProcessingStartedAt: at(20 * time.Minute)},
		&domain.Classification{CommentID: "stuck", ProcessingStatus: domain.ProcessingProcessing, RetryCount: 0, MaxRetries: 5, ProcessingStartedAt: at(30 * time.Minute)},
		&domain.Classification{CommentID: "running", ProcessingStatus: domain.ProcessingProcessing, RetryCount: 0, MaxRetries: 5, ProcessingStartedAt: at(time.Minute)},
		&domain.Classification{CommentID: "done", ProcessingStatus: domain.ProcessingCompleted, ProcessingStartedAt: at(time.Hour)},
	)

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 re-queued, got %d (%+v)", n, q.payloads)
	}

	got := map[string]int{}
	for _, p := range q.payloads {
		got[p.CommentID] = p.Attempt
		if p.WorkID != "sweep-"+p.CommentID {
			t.Errorf("unexpected work id %q", p.WorkID)
		}
	}
	if got["retry-due"] != 2 {
		t.Errorf("expected retry-due at attempt 2, got %d", got["retry-due"])
	}
	if got["stuck"] != 1 {
		t.Errorf("expected stuck at attempt 1, got %d", got["stuck"])
	}
}

func TestSweep_RequeuesAbandonedPending(t *testing.T) {
	s, q, _ := newSweeper(t,
		&domain.Classification{CommentID: "lost", ProcessingStatus: domain.ProcessingPending, MaxRetries: 5, CreatedAt: now.Add(-time.Hour)},
		&domain.Classification{CommentID: "fresh", ProcessingStatus: domain.ProcessingPending, MaxRetries: 5, CreatedAt: now.Add(-time.Minute)},
	)

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 || len(q.payloads) != 1 {
		t.Fatalf("expected only the abandoned row, got %+v", q.payloads)
	}
	// The lost hand-off never ran, so the first attempt is replayed.
	if p := q.payloads[0]; p.CommentID != "lost" || p.Attempt != 0 {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestSweep_ExhaustedBecomesFailed(t *testing.T) {
	s, q, repo := newSweeper(t,
		&domain.Classification{CommentID: "c1", ProcessingStatus: domain.ProcessingProcessing, RetryCount: 5, MaxRetries: 5, ProcessingStartedAt: at(time.Hour)},
	)

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 0 || len(q.payloads) != 0 {
		t.Fatalf("exhausted row must not be re-queued, got %d", n)
	}
	c, _ := repo.GetByCommentID(context.Background(), "c1")
	if c.ProcessingStatus != domain.ProcessingFailed || c.LastError == nil || *c.LastError != "retries_exhausted" {
		t.Errorf("expected FAILED with retries_exhausted, got %+v", c)
	}
}

func TestSweep_EnqueueFailure(t *testing.T) {
	s, q, _ := newSweeper(t,
		&domain.Classification{CommentID: "c1", ProcessingStatus: domain.ProcessingProcessing, MaxRetries: 5, ProcessingStartedAt: at(time.Hour)},
	)
	q.err = errors.New("redis down")

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("enqueue failures are logged, not returned: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 queued, got %d", n)
	}
}

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(SweeperConfig{}, nil, nil, nil)
	if s.cfg.StuckAfter != DefaultStuckAfter || s.cfg.BatchSize != DefaultBatchSize {
		t.Errorf("unexpected defaults %+v", s.cfg)
	}
	if s.schedule.MaxRetries() != retry.MaxRetries {
		t.Errorf("expected default schedule")
	}
}
