package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

// Use case contracts the handlers dispatch to.
type (
	Classifier interface {
		Classify(ctx context.Context, commentID string, attempt int) domain.Result
	}
	AnswerGenerator interface {
		Generate(ctx context.Context, commentID string, attempt int) domain.Result
	}
	ReplySender interface {
		Send(ctx context.Context, commentID string, attempt int) domain.Result
	}
	CommentHider interface {
		Hide(ctx context.Context, commentID string, hide bool, initiator domain.Initiator) domain.Result
	}
	CommentDeleter interface {
		Delete(ctx context.Context, commentID string, initiator domain.Initiator) domain.Result
	}
	Sweeper interface {
		Sweep(ctx context.Context) (int, error)
	}
	Reporter interface {
		Report(ctx context.Context) (*domain.StatsReport, error)
	}
	Poller interface {
		Poll(ctx context.Context, attempt int) domain.Result
	}
)

// Handlers binds task names to use cases. Poll may be nil.
type Handlers struct {
	Runner   *Runner
	Classify Classifier
	Generate AnswerGenerator
	Reply    ReplySender
	Hide     CommentHider
	Delete   CommentDeleter
	Sweep    Sweeper
	Report   Reporter
	Poll     Poller
	log      *slog.Logger
}

// Mux returns a ServeMux with every task registered.
func (h *Handlers) Mux() *asynq.ServeMux {
	h.log = slog.Default().With("component", "handlers")

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskClassifyComment, h.comment(TaskClassifyComment, func(ctx context.Context, p Payload) domain.Result {
		return h.Classify.Classify(ctx, p.CommentID, p.Attempt)
	}))
	mux.HandleFunc(TaskGenerateAnswer, h.comment(TaskGenerateAnswer, func(ctx context.Context, p Payload) domain.Result {
		return h.Generate.Generate(ctx, p.CommentID, p.Attempt)
	}))
	mux.HandleFunc(TaskSendReply, h.comment(TaskSendReply, func(ctx context.Context, p Payload) domain.Result {
		return h.Reply.Send(ctx, p.CommentID, p.Attempt)
	}))
	mux.HandleFunc(TaskHideComment, h.comment(TaskHideComment, func(ctx context.Context, p Payload) domain.Result {
		return h.Hide.Hide(ctx, p.CommentID, p.Hide, initiatorOf(p))
	}))
	mux.HandleFunc(TaskDeleteComment, h.comment(TaskDeleteComment, func(ctx context.Context, p Payload) domain.Result {
		return h.Delete.Delete(ctx, p.CommentID, initiatorOf(p))
	}))
	mux.HandleFunc(TaskRetryFailedClassifications, h.handleSweep)
	mux.HandleFunc(TaskStatsReport, h.handleReport)
	if h.Poll != nil {
		mux.HandleFunc(TaskPollYouTube, h.handlePoll)
	}
	return mux
}

func (h *Handlers) comment(task string, work Work) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p Payload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("invalid %s payload: %v: %w", task, err, asynq.SkipRetry)
		}
		if p.CommentID == "" {
			return fmt.Errorf("%s payload has no comment_id: %w", task, asynq.SkipRetry)
		}
		h.Runner.Run(ctx, task, p, work)
		return nil
	}
}

func (h *Handlers) handleSweep(ctx context.Context, _ *asynq.Task) error {
	n, err := h.Sweep.Sweep(ctx)
	if err != nil {
		h.log.Error("Classification sweep failed", "error", err)
		return err
	}
	h.log.Info("Classification sweep completed", "requeued", n)
	return nil
}

func (h *Handlers) handleReport(ctx context.Context, _ *asynq.Task) error {
	report, err := h.Report.Report(ctx)
	if err != nil {
		h.log.Error("Stats report failed", "error", err)
		return err
	}
	h.log.Info("Stats report stored", "report_id", report.ID)
	return nil
}

// handlePoll runs a poll under the retry policy. Beat ticks carry no
// payload; re-enqueued attempts carry the work id of the first.
func (h *Handlers) handlePoll(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("invalid %s payload: %v: %w", TaskPollYouTube, err, asynq.SkipRetry)
		}
	}
	if p.WorkID == "" {
		p.WorkID = uuid.NewString()
	}
	h.Runner.Run(ctx, TaskPollYouTube, p, func(ctx context.Context, p Payload) domain.Result {
		return h.Poll.Poll(ctx, p.Attempt)
	})
	return nil
}

func initiatorOf(p Payload) domain.Initiator {
	if p.Initiator == "" {
		return domain.InitiatorAI
	}
	return p.Initiator
}
