// Package reply publishes answers to the platform and applies hide/unhide
// moderation actions.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/answer"
	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/platform"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
)

// Platform is the part of the platform client used here.
type Platform interface {
	SendReply(ctx context.Context, commentID, message string) platform.Result
	HideComment(ctx context.Context, commentID string, hide bool) platform.Result
}

// UseCase sends replies and hides comments.
type UseCase struct {
	comments storage.CommentRepository
	answers  storage.AnswerRepository
	platform Platform
	locker   answer.Locker
	lockTTL  time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// New creates the use case. locker may be nil.
func New(
	comments storage.CommentRepository,
	answers storage.AnswerRepository,
	p Platform,
	locker answer.Locker,
	lockTTL time.Duration,
) *UseCase {
	if lockTTL <= 0 {
		lockTTL = answer.DefaultLockTTL
	}
	return &UseCase{
		comments: comments,
		answers:  answers,
		platform: p,
		locker:   locker,
		lockTTL:  lockTTL,
		now:      func() time.Time { return time.Now().UTC() },
		log:      slog.Default().With("component", "reply"),
	}
}

// Send publishes the stored generated answer for commentID. It holds the same
// reply lock as manual answers.
func (uc *UseCase) Send(ctx context.Context, commentID string, attempt int) domain.Result {
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
	// YouTube only threads one level deep.
	if comment.Platform == domain.PlatformYouTube && comment.ParentID != nil {
		log.Info("Target is a YouTube reply", "parent_id", *comment.ParentID)
		return domain.Skipped("target_is_reply")
	}

	if uc.locker != nil {
		lock, ok, err := uc.locker.Acquire(ctx, answer.ReplyLockName(commentID), uc.lockTTL)
		if err != nil {
			return domain.Retry(fmt.Sprintf("failed to acquire reply lock: %v", err), 0)
		}
		if !ok {
			log.Info("Reply already in progress")
			return domain.Skipped("reply_in_progress")
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release reply lock", "error", err)
			}
		}()
	}

	a, err := uc.answers.GetActiveByCommentID(ctx, commentID)
	if err != nil {
		return domain.Retry(fmt.Sprintf("failed to load answer: %v", err), 0)
	}
	if a != nil && a.ReplySent {
		log.Info("Reply already sent", "reply_id", a.ReplyID)
		result := domain.Skipped("reply_already_sent")
		if a.ReplyID != nil {
			result.ReplyID = *a.ReplyID
		}
		return result
	}

	if a == nil || a.AnswerText() == "" {
		log.Error("No generated answer available")
		return domain.Failure("no_generated_answer")
	}
	text := a.AnswerText()
	log = log.With("answer_id", a.ID)

	res := uc.platform.SendReply(ctx, commentID, text)
	if res.RateLimited {
		log.Warn("Reply deferred by rate limit", "retry_after", res.RetryAfter)
		return domain.Retry("rate_limited", res.RetryAfter)
	}

	if !res.Success {
		a.ReplyError = domain.Ptr(res.Error)
		if res.Transient {
			log.Warn("Transient reply failure", "error", res.Error, "status_code", res.StatusCode)
			if err := uc.answers.Update(ctx, a); err != nil {
				log.Warn("Failed to record reply error", "error", err)
			}
			return domain.Retry(res.Error, res.RetryAfter)
		}
		log.Error("Reply rejected", "error", res.Error, "status_code", res.StatusCode)
		a.ReplyStatus = domain.ReplyStatusFailed
		if err := uc.answers.Update(ctx, a); err != nil {
			log.Error("Failed to record reply failure", "error", err)
		}
		return domain.Failure(res.Error)
	}

	sentAt := uc.now()
	a.ReplySent = true
	a.ReplySentAt = &sentAt
	a.ReplyStatus = domain.ReplyStatusSent
	a.ReplyID = domain.Ptr(res.ReplyID)
	a.ReplyError = nil
	if err := uc.answers.Update(ctx, a); err != nil {
		// The reply is public but no active row tracks it.
		log.Error("Reply sent but not recorded", "reply_id", res.ReplyID, "error", err)
		return domain.Failure(fmt.Sprintf("reply %s sent but not recorded: %v", res.ReplyID, err))
	}

	log.Info("Reply sent", "reply_id", res.ReplyID)
	result := domain.Success(commentID)
	result.AnswerID = a.ID
	result.Answer = text
	result.ReplyID = res.ReplyID
	return result
}

// Hide hides or unhides a comment on the platform and records the new state.
func (uc *UseCase) Hide(ctx context.Context, commentID string, hide bool, initiator domain.Initiator) domain.Result {
	log := uc.log.With("comment_id", commentID, "hide", hide, "initiator", initiator)

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
	if comment.IsHidden == hide {
		state := "visible"
		if hide {
			state = "hidden"
		}
		log.Info("Comment already in desired state")
		return domain.Skipped("comment already " + state)
	}

	res := uc.platform.HideComment(ctx, commentID, hide)
	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "failed to hide comment"
		}
		if res.Transient {
			log.Warn("Transient hide failure", "error", reason)
			return domain.Retry(reason, res.RetryAfter)
		}
		log.Error("Hide rejected", "error", reason, "status_code", res.StatusCode)
		return domain.Failure(reason)
	}

	if err := uc.comments.SetHidden(ctx, commentID, hide, initiator == domain.InitiatorAI); err != nil {
		// Hiding is idempotent on the platform, so a retry is safe.
		log.Error("Comment hidden on platform but not recorded", "error", err)
		return domain.Retry(fmt.Sprintf("failed to record hidden state: %v", err), 0)
	}

	log.Info("Comment visibility updated")
	return domain.Success(commentID)
}
