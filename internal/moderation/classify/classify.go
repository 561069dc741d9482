// Package classify runs the LLM classifier on a stored comment and routes
// the comment to follow-up tasks.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

// LLM classifies one comment, optionally with the comment it replies to.
type LLM interface {
	Classify(ctx context.Context, comment, parent *domain.Comment) (*domain.ClassificationOutcome, error)
}

// Limiter admits outbound LLM calls.
type Limiter interface {
	Acquire(ctx context.Context) (allowed bool, retryAfter time.Duration, err error)
}

// Dispatcher hands follow-up work to the queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, task string, p tasks.Payload) bool
}

// Routing decides which follow-up tasks a classification triggers.
type Routing struct {
	AnswerTypes []string `yaml:"answer_types"`
	HideTypes   []string `yaml:"hide_types"`
	DeleteTypes []string `yaml:"delete_types"`
	AutoHide    bool     `yaml:"auto_hide"`
	AutoDelete  bool     `yaml:"auto_delete"`
}

// DefaultRouting answers questions and hides complaints, criticism and abuse.
func DefaultRouting() Routing {
	return Routing{
		AnswerTypes: []string{domain.TypeQuestion},
		HideTypes:   []string{domain.TypeUrgentIssue, domain.TypeCriticalFeedback, domain.TypeToxic},
		AutoHide:    true,
	}
}

// Actions returns the tasks to dispatch for a classification type.
func (r Routing) Actions(kind string) []string {
	kind = domain.NormalizeType(kind)
	var out []string
	if matches(r.AnswerTypes, kind) {
		out = append(out, tasks.TaskGenerateAnswer)
	}
	if r.AutoHide && matches(r.HideTypes, kind) {
		out = append(out, tasks.TaskHideComment)
	}
	if r.AutoDelete && matches(r.DeleteTypes, kind) {
		out = append(out, tasks.TaskDeleteComment)
	}
	return out
}

func matches(types []string, kind string) bool {
	return slices.ContainsFunc(types, func(t string) bool { return domain.NormalizeType(t) == kind })
}

// UseCase classifies comments.
type UseCase struct {
	comments        storage.CommentRepository
	classifications storage.ClassificationRepository
	usage           storage.TokenUsageRepository
	llm             LLM
	limiter         Limiter
	dispatcher      Dispatcher
	routing         Routing
	maxRetries      int
	now             func() time.Time
	log             *slog.Logger
}

// New creates the use case. limiter may be nil.
func New(
	comments storage.CommentRepository,
	classifications storage.ClassificationRepository,
	usage storage.TokenUsageRepository,
	llm LLM,
	limiter Limiter,
	dispatcher Dispatcher,
	routing Routing,
) *UseCase {
	return &UseCase{
		comments:        comments,
		classifications: classifications,
		usage:           usage,
		llm:             llm,
		limiter:         limiter,
		dispatcher:      dispatcher,
		routing:         routing,
		maxRetries:      retry.MaxRetries,
		now:             func() time.Time { return time.Now().UTC() },
		log:             slog.Default().With("component", "classify"),
	}
}

// Classify classifies commentID. attempt is the zero-based attempt counter
// carried by the task.
func (uc *UseCase) Classify(ctx context.Context, commentID string, attempt int) domain.Result {
	log := uc.log.With("comment_id", commentID, "attempt", attempt)

	comment, err := uc.comments.GetByID(ctx, commentID)
	if err != nil {
		return domain.Retry(fmt.Sprintf("failed to load comment: %v", err), 0)
	}
	if comment == nil {
		log.Warn("Comment not found")
		return domain.Failure("comment_not_found")
	}
	if comment.IsDeleted {
		return domain.Skipped("comment_deleted")
	}

	cls, err := uc.classifications.GetByCommentID(ctx, commentID)
	if err != nil {
		return domain.Retry(fmt.Sprintf("failed to load classification: %v", err), 0)
	}
	if cls == nil {
		cls = &domain.Classification{
			CommentID:        commentID,
			ProcessingStatus: domain.ProcessingPending,
			MaxRetries:       uc.maxRetries,
		}
	}
	if cls.ProcessingStatus == domain.ProcessingCompleted {
		log.Info("Comment already classified", "type", cls.TypeName())
		return domain.Skipped("already_classified")
	}
	if cls.MaxRetries <= 0 {
		cls.MaxRetries = uc.maxRetries
	}

	if uc.limiter != nil {
		allowed, retryAfter, err := uc.limiter.Acquire(ctx)
		if err != nil {
			return uc.deferAttempt(ctx, cls, fmt.Sprintf("llm rate limiter: %v", err), 0, attempt)
		}
		if !allowed {
			log.Warn("Classification deferred by rate limit", "retry_after", retryAfter)
			return uc.deferAttempt(ctx, cls, "llm_rate_limited", retryAfter, attempt)
		}
	}

	started := uc.now()
	cls.ProcessingStatus = domain.ProcessingProcessing
	cls.ProcessingStartedAt = &started
	cls.RetryCount = attempt
	if err := uc.classifications.Save(ctx, cls); err != nil {
		return domain.Retry(fmt.Sprintf("failed to mark processing: %v", err), 0)
	}

	if comment.ConversationID == nil {
		key := domain.ConversationKey(comment.RootID())
		if err := uc.comments.SetConversationID(ctx, commentID, key); err != nil {
			log.Warn("Failed to set conversation id", "error", err)
		}
	}

	var parent *domain.Comment
	if comment.ParentID != nil {
		parent, err = uc.comments.GetByID(ctx, *comment.ParentID)
		if err != nil {
			log.Warn("Failed to load parent comment", "parent_id", *comment.ParentID, "error", err)
		}
	}

	out, err := uc.llm.Classify(ctx, comment, parent)
	if err != nil {
		log.Error("Classification failed", "error", err, "transient", domain.IsTransient(err))
		return uc.fail(ctx, cls, err, attempt)
	}

	completed := uc.now()
	cls.ProcessingStatus = domain.ProcessingCompleted
	cls.ProcessingCompletedAt = &completed
	cls.LastError = nil
	cls.Type = domain.Ptr(out.Type)
	cls.Confidence = domain.Ptr(domain.ConfidenceToPercent(out.Confidence))
	cls.Reasoning = domain.Ptr(out.Reasoning)
	cls.InputTokens = domain.Ptr(out.InputTokens)
	cls.OutputTokens = domain.Ptr(out.OutputTokens)
	if err := uc.classifications.Save(ctx, cls); err != nil {
		return domain.Retry(fmt.Sprintf("failed to store classification: %v", err), 0)
	}

	uc.recordUsage(ctx, commentID, out)
	log.Info("Comment classified",
		"type", out.Type,
		"confidence", out.Confidence,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)

	uc.route(ctx, commentID, out.Type)

	result := domain.Success(commentID)
	result.Classification = out.Type
	result.Confidence = out.Confidence
	return result
}

// fail records the error. Transient errors are retried while attempts remain;
// anything else fails the classification at once.
func (uc *UseCase) fail(ctx context.Context, cls *domain.Classification, cause error, attempt int) domain.Result {
	reason := cause.Error()
	cls.LastError = domain.Ptr(reason)
	cls.RetryCount = attempt

	if domain.IsTransient(cause) && attempt < cls.MaxRetries {
		cls.ProcessingStatus = domain.ProcessingRetry
		if err := uc.classifications.Save(ctx, cls); err != nil {
			uc.log.Error("Failed to mark classification for retry", "comment_id", cls.CommentID, "error", err)
		}
		return domain.Retry(reason, 0)
	}

	uc.markFailed(ctx, cls)
	return domain.Failure(reason)
}

// deferAttempt records an attempt that never reached the LLM. The row stays
// visible to the sweeper; at the cutoff it is failed and the runner records
// the dead letter.
func (uc *UseCase) deferAttempt(
	ctx context.Context,
	cls *domain.Classification,
	reason string,
	retryAfter time.Duration,
	attempt int,
) domain.Result {
	deferred := uc.now()
	cls.LastError = domain.Ptr(reason)
	cls.RetryCount = attempt
	cls.ProcessingStartedAt = &deferred

	if attempt >= cls.MaxRetries {
		uc.markFailed(ctx, cls)
		return domain.Retry(reason, retryAfter)
	}
	cls.ProcessingStatus = domain.ProcessingRetry
	if err := uc.classifications.Save(ctx, cls); err != nil {
		uc.log.Error("Failed to mark classification deferred", "comment_id", cls.CommentID, "error", err)
	}
	return domain.Retry(reason, retryAfter)
}

func (uc *UseCase) markFailed(ctx context.Context, cls *domain.Classification) {
	completed := uc.now()
	cls.ProcessingStatus = domain.ProcessingFailed
	cls.ProcessingCompletedAt = &completed
	if err := uc.classifications.Save(ctx, cls); err != nil {
		uc.log.Error("Failed to mark classification failed", "comment_id", cls.CommentID, "error", err)
	}
}

func (uc *UseCase) route(ctx context.Context, commentID, kind string) {
	for _, task := range uc.routing.Actions(kind) {
		p := tasks.Payload{CommentID: commentID, Initiator: domain.InitiatorAI}
		if task == tasks.TaskHideComment {
			p.Hide = true
		}
		uc.log.Info("Routing comment", "comment_id", commentID, "type", kind, "task", task)
		uc.dispatcher.Dispatch(ctx, task, p)
	}
}

func (uc *UseCase) recordUsage(ctx context.Context, commentID string, out *domain.ClassificationOutcome) {
	if uc.usage == nil {
		return
	}
	err := uc.usage.Append(ctx, &domain.TokenUsage{
		Tool:      "classifier",
		Task:      tasks.TaskClassifyComment,
		Model:     out.Model,
		TokensIn:  out.InputTokens,
		TokensOut: out.OutputTokens,
		CommentID: domain.Ptr(commentID),
		Details:   map[string]any{"type": out.Type},
	})
	if err != nil {
		uc.log.Warn("Failed to record token usage", "comment_id", commentID, "error", err)
	}
}
