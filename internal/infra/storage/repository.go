package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

var (
	// ErrActiveAnswerExists is returned when an insert would create a second
	// non-deleted answer for a comment.
	ErrActiveAnswerExists = errors.New("active answer already exists for comment")

	// ErrAnswerNotFound is returned when the answer is missing or already soft-deleted.
	ErrAnswerNotFound = errors.New("answer not found")
)

// CommentRepository handles comment storage operations
type CommentRepository interface {
	// Save inserts a comment or refreshes its mutable fields
	Save(ctx context.Context, c *domain.Comment) error

	// GetByID retrieves a comment, nil if missing
	GetByID(ctx context.Context, id string) (*domain.Comment, error)

	// LatestCreatedAt returns the newest comment timestamp on a media item, nil if none
	LatestCreatedAt(ctx context.Context, mediaID string) (*time.Time, error)

	// SetConversationID stores the thread conversation id
	SetConversationID(ctx context.Context, id, conversationID string) error

	// SetHidden records the hidden state after the platform confirmed it
	SetHidden(ctx context.Context, id string, hidden, byAI bool) error

	// MarkDeletedWithDescendants soft-deletes a comment and every reply below it.
	// Returns the number of rows marked.
	MarkDeletedWithDescendants(ctx context.Context, id string, byAI bool) (int, error)
}

// AnswerRepository handles question answer storage operations.
// Implementations enforce at most one row with is_deleted = false per comment.
type AnswerRepository interface {
	// Create inserts a new active answer. Returns ErrActiveAnswerExists on conflict
	Create(ctx context.Context, a *domain.Answer) error

	// GetByID retrieves an answer including soft-deleted rows, nil if missing
	GetByID(ctx context.Context, id int64) (*domain.Answer, error)

	// GetActiveByCommentID retrieves the active answer for a comment, nil if none
	GetActiveByCommentID(ctx context.Context, commentID string) (*domain.Answer, error)

	// GetActiveByReplyID retrieves the active answer whose external reply has this id
	GetActiveByReplyID(ctx context.Context, replyID string) (*domain.Answer, error)

	// Update persists processing and reply fields of an active answer.
	// Returns ErrAnswerNotFound if it was superseded meanwhile
	Update(ctx context.Context, a *domain.Answer) error

	// SoftDelete marks an active answer deleted with reply_status = deleted,
	// leaving its timestamps untouched
	SoftDelete(ctx context.Context, id int64) error

	// Supersede soft-deletes the active answer oldID and inserts replacement in one transaction
	Supersede(ctx context.Context, oldID int64, replacement *domain.Answer) error
}

// ClassificationRepository handles classification storage operations
type ClassificationRepository interface {
	// GetByCommentID retrieves the classification for a comment, nil if none
	GetByCommentID(ctx context.Context, commentID string) (*domain.Classification, error)

	// Save inserts or updates the classification of a comment
	Save(ctx context.Context, c *domain.Classification) error

	// ListByStatus returns up to limit classifications in a status, oldest first
	ListByStatus(ctx context.Context, status domain.ProcessingStatus, limit int) ([]*domain.Classification, error)

	// ListStale returns classifications stuck in a status since before the threshold.
	// Rows without processing_started_at are aged by created_at
	ListStale(
		ctx context.Context,
		status domain.ProcessingStatus,
		before time.Time,
		limit int,
	) ([]*domain.Classification, error)

	// CountByStatus returns row counts per processing status
	CountByStatus(ctx context.Context) (map[domain.ProcessingStatus]int, error)
}

// TokenUsageRepository is the append-only token ledger
type TokenUsageRepository interface {
	// Append records one invocation
	Append(ctx context.Context, u *domain.TokenUsage) error

	// Totals sums usage per model in [from, to)
	Totals(ctx context.Context, from, to time.Time) ([]domain.TokenTotals, error)
}

// StatsRepository aggregates and stores moderation reports
type StatsRepository interface {
	// Collect aggregates activity in [from, to)
	Collect(ctx context.Context, from, to time.Time) (*domain.ModerationStats, error)

	// SaveReport persists a report
	SaveReport(ctx context.Context, r *domain.StatsReport) error

	// LatestReport returns the newest report, nil if none
	LatestReport(ctx context.Context) (*domain.StatsReport, error)
}
