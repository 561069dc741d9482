package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

// ClassificationRepo implements storage.ClassificationRepository using PostgreSQL.
type ClassificationRepo struct {
	db *DB
}

// NewClassificationRepo creates a new PostgreSQL classification repository.
func NewClassificationRepo(db *DB) *ClassificationRepo {
	return &ClassificationRepo{db: db}
}

// GetByCommentID retrieves the classification for a comment.
func (r *ClassificationRepo) GetByCommentID(ctx context.Context, commentID string) (*domain.Classification, error) {
	var c domain.Classification
	err := r.db.GetContext(ctx, &c, `SELECT * FROM comments_classification WHERE comment_id = $1`, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}
	return &c, nil
}

// Save upserts the classification keyed by comment id.
func (r *ClassificationRepo) Save(ctx context.Context, c *domain.Classification) error {
	if c.ProcessingStatus == "" {
		c.ProcessingStatus = domain.ProcessingPending
	}
	query, args, err := r.db.BindNamed(`
		INSERT INTO comments_classification (
			comment_id, processing_status, processing_started_at, processing_completed_at,
			retry_count, max_retries, last_error, type, confidence, reasoning,
			input_tokens, output_tokens
		) VALUES (
			:comment_id, :processing_status, :processing_started_at, :processing_completed_at,
			:retry_count, :max_retries, :last_error, :type, :confidence, :reasoning,
			:input_tokens, :output_tokens
		)
		ON CONFLICT (comment_id) DO UPDATE SET
			processing_status = EXCLUDED.processing_status,
			processing_started_at = EXCLUDED.processing_started_at,
			processing_completed_at = EXCLUDED.processing_completed_at,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			last_error = EXCLUDED.last_error,
			type = EXCLUDED.type,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens
		RETURNING id`, c)
	if err != nil {
		return fmt.Errorf("failed to bind classification: %w", err)
	}
	if err := r.db.GetContext(ctx, &c.ID, query, args...); err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	return nil
}

// ListByStatus returns up to limit classifications in a status, oldest first.
func (r *ClassificationRepo) ListByStatus(
	ctx context.Context,
	status domain.ProcessingStatus,
	limit int,
) ([]*domain.Classification, error) {
	var out []*domain.Classification
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM comments_classification
		WHERE processing_status = $1
		ORDER BY id
		LIMIT $2`,
		status, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	return out, nil
}

// ListStale returns classifications stuck in status since before the threshold.
// Rows never picked up are aged by their creation time.
func (r *ClassificationRepo) ListStale(
	ctx context.Context,
	status domain.ProcessingStatus,
	before time.Time,
	limit int,
) ([]*domain.Classification, error) {
	var out []*domain.Classification
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM comments_classification
		WHERE processing_status = $1
		  AND COALESCE(processing_started_at, created_at) < $2
		ORDER BY id
		LIMIT $3`,
		status, before, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale classifications: %w", err)
	}
	return out, nil
}

// CountByStatus returns row counts per processing status.
func (r *ClassificationRepo) CountByStatus(ctx context.Context) (map[domain.ProcessingStatus]int, error) {
	var rows []struct {
		Status domain.ProcessingStatus `db:"processing_status"`
		Count  int                     `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT processing_status, COUNT(*) AS count
		FROM comments_classification
		GROUP BY processing_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count classifications: %w", err)
	}
	counts := make(map[domain.ProcessingStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return math.MaxInt32
	}
	return limit
}
