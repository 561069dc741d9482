// Package generate drafts AI answers for classified questions.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

// LLM drafts an answer for a classified comment.
type LLM interface {
	Answer(ctx context.Context, comment *domain.Comment, classification string) (*domain.AnswerOutcome, error)
}

// Creator inserts the active answer row.
type Creator interface {
	Create(ctx context.Context, draft *domain.Answer) (*domain.Answer, error)
}

// Limiter admits outbound LLM calls.
type Limiter interface {
	Acquire(ctx context.Context) (allowed bool, retryAfter time.Duration, err error)
}

// Dispatcher hands follow-up work to the queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, task string, p tasks.Payload) bool
}

// UseCase generates answers.
type UseCase struct {
	comments        storage.CommentRepository
	classifications storage.ClassificationRepository
	answers         storage.AnswerRepository
	creator         Creator
	usage           storage.TokenUsageRepository
	llm             LLM
	limiter         Limiter
	dispatcher      Dispatcher
	maxRetries      int
	now             func() time.Time
	log             *slog.Logger
}

// New creates the use case. limiter may be nil.
func New(
	comments storage.CommentRepository,
	classifications storage.ClassificationRepository,
	answers storage.AnswerRepository,
	creator Creator,
	usage storage.TokenUsageRepository,
	llm LLM,
	limiter Limiter,
	dispatcher Dispatcher,
) *UseCase {
	return &UseCase{
		comments:        comments,
		classifications: classifications,
		answers:         answers,
		creator:         creator,
		usage:           usage,
		llm:             llm,
		limiter:         limiter,
		dispatcher:      dispatcher,
		maxRetries:      retry.MaxRetries,
		now:             func() time.Time { return time.Now().UTC() },
		log:             slog.Default().With("component", "generate"),
	}
}

// Generate drafts the answer for commentID and queues the reply.
func (uc *UseCase) Generate(ctx context.Context, commentID string, attempt int) domain.Result {
	log := uc.log.With("comment_id", commentID, "attempt", attempt)

	comment, err := uc.comments.GetByID(ctx, commentID)
	if err != nil {
		return domain.Retry(fmt.Sprintf("failed to load comment: %v", err), 0)
	}
	if comment == nil {
		log.Error("Comment not found")
		return domain.Failure(fmt.Sprintf("comment %s not found", commentID))
	}
	if comment.IsDeleted {
		return domain.Skipped("comment_deleted")
	}

	cls, err := uc.classifications.GetByCommentID(ctx, commentID)
	if err != nil {
		return domain.Retry(fmt.Sprintf("failed to load classification: %v", err), 0)
	}
	if cls == nil || cls.ProcessingStatus != domain.ProcessingCompleted {
		return domain.Failure("comment_not_classified")
	}

	a, err := uc.activeAnswer(ctx, commentID)
	if err != nil {
		return domain.Retry(err.Error(), 0)
	}
	log = log.With("answer_id", a.ID)

	switch {
	case !a.IsAIGenerated:
		log.Info("Manual answer present, skipping generation")
		return domain.Skipped("manual_answer")
	case a.ReplySent:
		return domain.Skipped("reply_already_sent")
	case a.ProcessingStatus == domain.ProcessingCompleted && a.AnswerText() != "":
		// A previous attempt generated the text; only the hand-off may be missing.
		uc.dispatcher.Dispatch(ctx, tasks.TaskSendReply, tasks.Payload{CommentID: commentID})
		return uc.success(commentID, a)
	}

	if uc.limiter != nil {
		allowed, retryAfter, err := uc.limiter.Acquire(ctx)
		if err != nil {
			return domain.Retry(fmt.Sprintf("llm rate limiter: %v", err), 0)
		}
		if !allowed {
			log.Warn("Generation deferred by rate limit", "retry_after", retryAfter)
			return domain.Retry("llm_rate_limited", retryAfter)
		}
	}

	started := uc.now()
	a.ProcessingStatus = domain.ProcessingProcessing
	a.ProcessingStartedAt = &started
	a.RetryCount = attempt
	if err := uc.answers.Update(ctx, a); err != nil {
		return uc.updateFailed(err)
	}

	out, err := uc.llm.Answer(ctx, comment, cls.TypeName())
	if err != nil {
		log.Error("Answer generation failed", "error", err, "transient", domain.IsTransient(err))
		return uc.fail(ctx, a, err, attempt)
	}

	completed := uc.now()
	a.Text = domain.Ptr(out.Text)
	a.Confidence = domain.Ptr(out.Confidence)
	a.QualityScore = domain.Ptr(out.QualityScore)
	a.InputTokens = domain.Ptr(out.InputTokens)
	a.OutputTokens = domain.Ptr(out.OutputTokens)
	a.ProcessingTimeMs = domain.Ptr(int(completed.Sub(started).Milliseconds()))
	a.IsAIGenerated = true
	a.LastError = nil
	a.ProcessingStatus = domain.ProcessingCompleted
	a.ProcessingCompletedAt = &completed
	if err := uc.answers.Update(ctx, a); err != nil {
		return uc.updateFailed(err)
	}

	uc.recordUsage(ctx, commentID, out)
	log.Info("Answer generated",
		"confidence", out.Confidence,
		"quality_score", out.QualityScore,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)

	uc.dispatcher.Dispatch(ctx, tasks.TaskSendReply, tasks.Payload{CommentID: commentID})
	return uc.success(commentID, a)
}

// activeAnswer loads or creates the active answer. Losing a concurrent create
// is expected; the winner's row is used.
func (uc *UseCase) activeAnswer(ctx context.Context, commentID string) (*domain.Answer, error) {
	a, err := uc.answers.GetActiveByCommentID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answer: %w", err)
	}
	if a != nil {
		return a, nil
	}

	a, err = uc.creator.Create(ctx, &domain.Answer{
		CommentID:        commentID,
		ProcessingStatus: domain.ProcessingPending,
		MaxRetries:       uc.maxRetries,
		IsAIGenerated:    true,
	})
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, storage.ErrActiveAnswerExists) {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	a, err = uc.answers.GetActiveByCommentID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload answer: %w", err)
	}
	if a == nil {
		return nil, errors.New("active answer vanished after conflict")
	}
	return a, nil
}

// fail records the error. Transient errors are retried while attempts remain;
// anything else fails the answer at once.
func (uc *UseCase) fail(ctx context.Context, a *domain.Answer, cause error, attempt int) domain.Result {
	reason := cause.Error()
	a.LastError = domain.Ptr(reason)
	a.RetryCount = attempt
	maxRetries := a.MaxRetries
	if maxRetries <= 0 {
		maxRetries = uc.maxRetries
	}

	if domain.IsTransient(cause) && attempt < maxRetries {
		a.ProcessingStatus = domain.ProcessingRetry
		if err := uc.answers.Update(ctx, a); err != nil {
			uc.log.Error("Failed to mark answer for retry", "answer_id", a.ID, "error", err)
		}
		return domain.Retry(reason, 0)
	}

	uc.log.Warn("Answer generation failed permanently", "answer_id", a.ID, "comment_id", a.CommentID, "attempt", attempt)
	completed := uc.now()
	a.ProcessingStatus = domain.ProcessingFailed
	a.ProcessingCompletedAt = &completed
	if err := uc.answers.Update(ctx, a); err != nil {
		uc.log.Error("Failed to mark answer failed", "answer_id", a.ID, "error", err)
	}
	return domain.Failure(reason)
}

// updateFailed maps a lost row to a skip: a manual answer replaced it meanwhile.
func (uc *UseCase) updateFailed(err error) domain.Result {
	if errors.Is(err, storage.ErrAnswerNotFound) {
		return domain.Skipped("answer_superseded")
	}
	return domain.Retry(fmt.Sprintf("failed to update answer: %v", err), 0)
}

func (uc *UseCase) success(commentID string, a *domain.Answer) domain.Result {
	result := domain.Success(commentID)
	result.AnswerID = a.ID
	result.Answer = a.AnswerText()
	if a.Confidence != nil {
		result.Confidence = *a.Confidence
	}
	return result
}

func (uc *UseCase) recordUsage(ctx context.Context, commentID string, out *domain.AnswerOutcome) {
	if uc.usage == nil {
		return
	}
	err := uc.usage.Append(ctx, &domain.TokenUsage{
		Tool:      "answer_generator",
		Task:      tasks.TaskGenerateAnswer,
		Model:     out.Model,
		TokensIn:  out.InputTokens,
		TokensOut: out.OutputTokens,
		CommentID: domain.Ptr(commentID),
		Details:   map[string]any{"quality_score": out.QualityScore},
	})
	if err != nil {
		uc.log.Warn("Failed to record token usage", "comment_id", commentID, "error", err)
	}
}
