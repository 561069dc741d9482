// Package ingest stores inbound comments and starts the moderation pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

var (
	// ErrInvalidComment is returned for comments without id or media.
	ErrInvalidComment = errors.New("invalid comment")
)

// Dispatcher hands follow-up work to the queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, task string, p tasks.Payload) bool
}

// UseCase ingests comments.
type UseCase struct {
	comments        storage.CommentRepository
	answers         storage.AnswerRepository
	classifications storage.ClassificationRepository
	dispatcher      Dispatcher
	log             *slog.Logger
}

// New creates the use case.
func New(
	comments storage.CommentRepository,
	answers storage.AnswerRepository,
	classifications storage.ClassificationRepository,
	dispatcher Dispatcher,
) *UseCase {
	return &UseCase{
		comments:        comments,
		answers:         answers,
		classifications: classifications,
		dispatcher:      dispatcher,
		log:             slog.Default().With("component", "ingest"),
	}
}

// Ingest stores c and queues its classification. Our own replies echoed back
// by the platform are ignored. Storage failures are returned as errors.
func (uc *UseCase) Ingest(ctx context.Context, c *domain.Comment) (domain.Result, error) {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.MediaID) == "" {
		return domain.Result{}, fmt.Errorf("%w: id and media id are required", ErrInvalidComment)
	}
	log := uc.log.With("comment_id", c.ID, "media_id", c.MediaID)

	own, err := uc.answers.GetActiveByReplyID(ctx, c.ID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to check reply id: %w", err)
	}
	if own != nil {
		log.Info("Ignoring our own reply", "answer_id", own.ID)
		return domain.Skipped("own_reply"), nil
	}

	existing, err := uc.comments.GetByID(ctx, c.ID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to load comment: %w", err)
	}
	cls, err := uc.classifications.GetByCommentID(ctx, c.ID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("failed to load classification: %w", err)
	}
	if existing != nil &&
		(existing.IsDeleted || (cls != nil && cls.ProcessingStatus == domain.ProcessingCompleted)) {
		log.Info("Comment already processed")
		return domain.Skipped("comment_exists"), nil
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := uc.comments.Save(ctx, c); err != nil {
		return domain.Result{}, fmt.Errorf("failed to save comment: %w", err)
	}
	// The row exists before the task does, so a lost hand-off is still swept.
	if cls == nil {
		err := uc.classifications.Save(ctx, &domain.Classification{
			CommentID:        c.ID,
			ProcessingStatus: domain.ProcessingPending,
			MaxRetries:       retry.MaxRetries,
		})
		if err != nil {
			return domain.Result{}, fmt.Errorf("failed to create classification: %w", err)
		}
	}

	queued := uc.dispatcher.Dispatch(ctx, tasks.TaskClassifyComment, tasks.Payload{CommentID: c.ID})
	log.Info("Comment ingested",
		"username", c.Username,
		"has_parent", c.ParentID != nil,
		"text_length", len(c.Text),
		"classification_queued", queued,
	)
	return domain.Success(c.ID), nil
}
