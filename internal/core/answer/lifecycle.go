// Package answer owns every write that flips is_deleted or reply_status on
// question answers. At most one answer per comment is active; the storage
// layer enforces it and this package treats a violation as an expected outcome.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/infra/platform"
	"github.com/lun1tunes/instachatico/internal/infra/redis"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
	"github.com/lun1tunes/instachatico/internal/moderation/metrics"
)

var (
	// ErrRetractionFailed means the previously sent reply could not be deleted.
	// Nothing was changed locally.
	ErrRetractionFailed = errors.New("failed to retract previous reply")

	// ErrReplySendFailed means the new reply could not be sent.
	ErrReplySendFailed = errors.New("failed to send reply")

	// ErrCommentNotFound is returned when the target comment is unknown.
	ErrCommentNotFound = errors.New("comment not found")

	// ErrEmptyText is returned for blank manual answers.
	ErrEmptyText = errors.New("answer text is empty")

	// ErrReplyInProgress means another writer holds the comment's reply lock.
	ErrReplyInProgress = errors.New("reply already in progress")
)

// DefaultLockTTL bounds how long one writer owns a comment's reply.
const DefaultLockTTL = 30 * time.Second

// ReplyLockName is the lock held by every writer that posts a reply to commentID.
func ReplyLockName(commentID string) string {
	return "reply:" + commentID
}

// Locker takes named cross-process locks.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*redis.Lock, bool, error)
}

// Platform is the part of the platform client the lifecycle needs.
type Platform interface {
	SendReply(ctx context.Context, commentID, message string) platform.Result
	DeleteReply(ctx context.Context, replyID string) platform.Result
	DeleteItem(ctx context.Context, itemID string) platform.Result
}

// Lifecycle implements create, replace and delete for answers.
type Lifecycle struct {
	answers    storage.AnswerRepository
	comments   storage.CommentRepository
	platform   Platform
	locker     Locker
	lockTTL    time.Duration
	local      localLocks
	maxRetries int
	now        func() time.Time
	log        *slog.Logger
}

// NewLifecycle creates a lifecycle over the given repositories and platform.
func NewLifecycle(
	answers storage.AnswerRepository,
	comments storage.CommentRepository,
	p Platform,
) *Lifecycle {
	return &Lifecycle{
		answers:    answers,
		comments:   comments,
		platform:   p,
		lockTTL:    DefaultLockTTL,
		local:      localLocks{held: make(map[string]struct{})},
		maxRetries: retry.MaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
		log:        slog.Default().With("component", "answer_lifecycle"),
	}
}

// WithLocker makes Submit and Replace hold the same Redis reply lock as the
// send_reply worker. Without it the lock is only held within this process.
func (l *Lifecycle) WithLocker(locker Locker, ttl time.Duration) *Lifecycle {
	l.locker = locker
	if ttl > 0 {
		l.lockTTL = ttl
	}
	return l
}

// Create inserts a new active answer. It fails with storage.ErrActiveAnswerExists
// when the comment already has one; callers must use Replace instead.
func (l *Lifecycle) Create(ctx context.Context, draft *domain.Answer) (*domain.Answer, error) {
	a := draft.Clone()
	a.IsDeleted = false
	if a.MaxRetries == 0 {
		a.MaxRetries = l.maxRetries
	}
	if a.ProcessingStatus == "" {
		a.ProcessingStatus = domain.ProcessingPending
	}
	if a.ReplyStatus == "" {
		a.ReplyStatus = domain.ReplyStatusNone
	}

	if err := l.answers.Create(ctx, a); err != nil {
		l.record("create", err)
		return nil, err
	}
	l.record("create", nil)
	return a, nil
}

// Submit publishes a manual answer for a comment. When the comment already
// has an active answer the call is a Replace of that answer.
func (l *Lifecycle) Submit(ctx context.Context, commentID, text string) (*domain.Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	comment, err := l.comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load comment: %w", err)
	}
	if comment == nil {
		return nil, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	if comment.ConversationID == nil {
		if err := l.comments.SetConversationID(ctx, commentID, domain.ConversationKey(comment.RootID())); err != nil {
			l.log.Warn("Failed to set conversation id", "comment_id", commentID, "error", err)
		}
	}

	unlock, err := l.lock(ctx, commentID)
	if err != nil {
		l.record("submit", err)
		return nil, err
	}
	defer unlock()

	existing, err := l.answers.GetActiveByCommentID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active answer: %w", err)
	}
	if existing != nil {
		l.log.Info("Active answer exists, replacing", "comment_id", commentID, "answer_id", existing.ID)
		return l.replace(ctx, existing, text)
	}

	sent := l.platform.SendReply(ctx, commentID, text)
	if !sent.Success {
		l.record("submit", ErrReplySendFailed)
		return nil, fmt.Errorf("%w: %s", ErrReplySendFailed, sent.Error)
	}

	a := l.manualAnswer(commentID, text, sent.ReplyID)
	if err := l.answers.Create(ctx, a); err != nil {
		// The reply is out but another writer won the row.
		l.log.Error("Manual reply sent but answer not stored",
			"comment_id", commentID,
			"reply_id", sent.ReplyID,
			"error", err,
		)
		l.record("submit", err)
		return nil, err
	}

	l.record("submit", nil)
	l.log.Info("Manual answer created", "comment_id", commentID, "answer_id", a.ID, "reply_id", sent.ReplyID)
	return a, nil
}

// Replace supersedes the active answer answerID with a manual answer. Manual
// answers always carry the maximum quality score.
//
// A sent reply is retracted first; if that fails nothing changes. If the new
// send fails after a successful retraction, the old row is still soft-deleted
// and the comment is left without an active answer.
func (l *Lifecycle) Replace(ctx context.Context, answerID int64, text string) (*domain.Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	old, err := l.activeAnswer(ctx, answerID)
	if err != nil {
		return nil, err
	}
	unlock, err := l.lock(ctx, old.CommentID)
	if err != nil {
		l.record("replace", err)
		return nil, err
	}
	defer unlock()

	// Another writer may have superseded the row while we waited.
	if old, err = l.activeAnswer(ctx, answerID); err != nil {
		return nil, err
	}
	return l.replace(ctx, old, text)
}

func (l *Lifecycle) activeAnswer(ctx context.Context, answerID int64) (*domain.Answer, error) {
	a, err := l.answers.GetByID(ctx, answerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answer: %w", err)
	}
	if a == nil || a.IsDeleted {
		l.record("replace", storage.ErrAnswerNotFound)
		return nil, fmt.Errorf("answer %d: %w", answerID, storage.ErrAnswerNotFound)
	}
	return a, nil
}

// replace must run under the comment's reply lock.
func (l *Lifecycle) replace(ctx context.Context, old *domain.Answer, text string) (*domain.Answer, error) {
	log := l.log.With("answer_id", old.ID, "comment_id", old.CommentID)

	retracted := false
	if old.HasSentReply() {
		res := l.platform.DeleteReply(ctx, *old.ReplyID)
		if !res.Success {
			log.Error("Failed to retract previous reply", "reply_id", *old.ReplyID, "error", res.Error)
			l.record("replace", ErrRetractionFailed)
			return nil, fmt.Errorf("%w: %s", ErrRetractionFailed, res.Error)
		}
		retracted = true
		log.Info("Previous reply retracted", "reply_id", *old.ReplyID)
	}

	sent := l.platform.SendReply(ctx, old.CommentID, text)
	if !sent.Success {
		if retracted {
			// The retraction cannot be undone, so the old row must not stay active.
			if err := l.answers.SoftDelete(ctx, old.ID); err != nil {
				log.Error("Failed to soft delete retracted answer", "error", err)
			}
			log.Error("New reply failed after retraction, comment has no active answer", "error", sent.Error)
		}
		l.record("replace", ErrReplySendFailed)
		return nil, fmt.Errorf("%w: %s", ErrReplySendFailed, sent.Error)
	}

	replacement := l.manualAnswer(old.CommentID, text, sent.ReplyID)
	replacement.MaxRetries = old.MaxRetries
	if err := l.answers.Supersede(ctx, old.ID, replacement); err != nil {
		log.Error("Reply sent but replacement not stored", "reply_id", sent.ReplyID, "error", err)
		l.record("replace", err)
		return nil, err
	}

	l.record("replace", nil)
	log.Info("Answer replaced", "new_answer_id", replacement.ID, "reply_id", sent.ReplyID)
	return replacement, nil
}

// Delete removes a comment on the platform and then soft-deletes it together
// with every reply below it. A failed platform call leaves local rows untouched.
func (l *Lifecycle) Delete(ctx context.Context, commentID string, initiator domain.Initiator) domain.Result {
	log := l.log.With("comment_id", commentID, "initiator", initiator)

	comment, err := l.comments.GetByID(ctx, commentID)
	if err != nil {
		return domain.Retry(fmt.Sprintf("failed to load comment: %v", err), 0)
	}
	if comment == nil {
		log.Error("Comment not found for deletion")
		return domain.Failure(fmt.Sprintf("comment %s not found", commentID))
	}
	if comment.IsDeleted {
		log.Info("Comment already deleted")
		return domain.Skipped("comment already deleted")
	}

	res := l.platform.DeleteItem(ctx, commentID)
	if !res.Success {
		l.record("delete", errors.New(res.Error))
		reason := res.Error
		if reason == "" {
			reason = "failed to delete comment"
		}
		log.Error("Platform delete failed", "error", reason, "transient", res.Transient)
		if res.Transient {
			return domain.Retry(reason, res.RetryAfter)
		}
		return domain.Failure(reason)
	}

	n, err := l.comments.MarkDeletedWithDescendants(ctx, commentID, initiator == domain.InitiatorAI)
	if err != nil {
		log.Error("Comment deleted on platform but not marked locally", "error", err)
		l.record("delete", err)
		return domain.Failure(fmt.Sprintf("failed to mark comment deleted: %v", err))
	}

	l.record("delete", nil)
	log.Info("Comment deleted", "deleted_count", n)
	result := domain.Success(commentID)
	result.DeletedCount = n
	return result
}

func (l *Lifecycle) manualAnswer(commentID, text, replyID string) *domain.Answer {
	now := l.now()
	a := &domain.Answer{
		CommentID:        commentID,
		ProcessingStatus: domain.ProcessingCompleted,
		MaxRetries:       l.maxRetries,
		Text:             domain.Ptr(text),
		Confidence:       domain.Ptr(domain.ManualConfidence),
		QualityScore:     domain.Ptr(domain.MaxQualityScore),
		IsAIGenerated:    false,
		ReplySent:        true,
		ReplySentAt:      &now,
		ReplyStatus:      domain.ReplyStatusSent,
	}
	if replyID != "" {
		a.ReplyID = domain.Ptr(replyID)
	}
	return a
}

// lock takes the reply lock for commentID and returns its release func.
func (l *Lifecycle) lock(ctx context.Context, commentID string) (func(), error) {
	if l.locker == nil {
		if !l.local.tryLock(commentID) {
			return nil, fmt.Errorf("%w: %s", ErrReplyInProgress, commentID)
		}
		return func() { l.local.unlock(commentID) }, nil
	}

	lock, ok, err := l.locker.Acquire(ctx, ReplyLockName(commentID), l.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire reply lock: %w", err)
	}
	if !ok {
		l.log.Info("Reply already in progress", "comment_id", commentID)
		return nil, fmt.Errorf("%w: %s", ErrReplyInProgress, commentID)
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			l.log.Warn("Failed to release reply lock", "comment_id", commentID, "error", err)
		}
	}, nil
}

type localLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (k *localLocks) tryLock(name string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.held[name]; ok {
		return false
	}
	k.held[name] = struct{}{}
	return true
}

func (k *localLocks) unlock(name string) {
	k.mu.Lock()
	delete(k.held, name)
	k.mu.Unlock()
}

func (l *Lifecycle) record(op string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrActiveAnswerExists):
		outcome = "conflict"
	case errors.Is(err, storage.ErrAnswerNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrRetractionFailed):
		outcome = "retraction_failed"
	case errors.Is(err, ErrReplySendFailed):
		outcome = "send_failed"
	case errors.Is(err, ErrReplyInProgress):
		outcome = "in_progress"
	default:
		outcome = "error"
	}
	metrics.AnswerTransitions.WithLabelValues(op, outcome).Inc()
}
