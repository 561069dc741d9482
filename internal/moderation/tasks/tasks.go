// Package tasks carries units of work between processes. Every task is
// enqueued without queue-level retries; a retry is an explicit re-enqueue
// of the same work id with the attempt counter incremented.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/moderation/metrics"
)

// Task names.
const (
	TaskClassifyComment            = "classify_comment"
	TaskGenerateAnswer             = "generate_answer"
	TaskSendReply                  = "send_reply"
	TaskHideComment                = "hide_comment"
	TaskDeleteComment              = "delete_comment"
	TaskRetryFailedClassifications = "retry_failed_classifications"
	TaskStatsReport                = "stats_report"
	TaskPollYouTube                = "poll_youtube_comments"
)

// Queue names.
const (
	QueueLLM         = "llm"
	QueuePlatform    = "platform"
	QueueMaintenance = "maintenance"
)

// QueueFor routes a task to its queue.
func QueueFor(task string) string {
	switch task {
	case TaskClassifyComment, TaskGenerateAnswer:
		return QueueLLM
	case TaskSendReply, TaskHideComment, TaskDeleteComment, TaskPollYouTube:
		return QueuePlatform
	default:
		return QueueMaintenance
	}
}

// Payload is the message body shared by all comment tasks.
type Payload struct {
	WorkID    string           `json:"work_id"`
	CommentID string           `json:"comment_id,omitempty"`
	Attempt   int              `json:"attempt"`
	Hide      bool             `json:"hide,omitempty"`
	Initiator domain.Initiator `json:"initiator,omitempty"`
}

// TaskID identifies one attempt of one unit of work.
func TaskID(task string, p Payload) string {
	return fmt.Sprintf("%s:%s:%d", task, p.WorkID, p.Attempt)
}

// Queue submits tasks, optionally delayed.
type Queue interface {
	Enqueue(ctx context.Context, task string, p Payload, delay time.Duration) error
}

// Dispatcher hands work off without ever failing the caller.
type Dispatcher struct {
	queue Queue
	log   *slog.Logger
}

// NewDispatcher creates a dispatcher over q.
func NewDispatcher(q Queue) *Dispatcher {
	return &Dispatcher{
		queue: q,
		log:   slog.Default().With("component", "dispatcher"),
	}
}

// Dispatch enqueues a new unit of work. Enqueue failures are logged and
// reported as false.
func (d *Dispatcher) Dispatch(ctx context.Context, task string, p Payload) bool {
	if p.WorkID == "" {
		p.WorkID = uuid.NewString()
	}
	if err := d.queue.Enqueue(ctx, task, p, 0); err != nil {
		metrics.EnqueueFailures.WithLabelValues(task).Inc()
		d.log.Error("Failed to enqueue task",
			"task", task,
			"comment_id", p.CommentID,
			"work_id", p.WorkID,
			"error", err,
		)
		return false
	}
	d.log.Debug("Task enqueued", "task", task, "comment_id", p.CommentID, "work_id", p.WorkID)
	return true
}
