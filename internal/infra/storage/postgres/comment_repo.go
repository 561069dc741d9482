package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

// CommentRepo implements storage.CommentRepository using PostgreSQL.
type CommentRepo struct {
	db *DB
}

// NewCommentRepo creates a new PostgreSQL comment repository.
func NewCommentRepo(db *DB) *CommentRepo {
	return &CommentRepo{db: db}
}

// Save inserts a comment or refreshes its text and author on conflict.
func (r *CommentRepo) Save(ctx context.Context, c *domain.Comment) error {
	if c.Platform == "" {
		c.Platform = domain.PlatformInstagram
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO instagram_comments (
			id, platform, media_id, parent_id, user_id, username, text, created_at, conversation_id
		) VALUES (
			:id, :platform, :media_id, :parent_id, :user_id, :username, :text, :created_at, :conversation_id
		)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			username = EXCLUDED.username,
			conversation_id = COALESCE(instagram_comments.conversation_id, EXCLUDED.conversation_id)`,
		c,
	)
	if err != nil {
		return fmt.Errorf("failed to save comment: %w", err)
	}
	return nil
}

// GetByID retrieves a comment by id.
func (r *CommentRepo) GetByID(ctx context.Context, id string) (*domain.Comment, error) {
	var c domain.Comment
	err := r.db.GetContext(ctx, &c, `SELECT * FROM instagram_comments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return &c, nil
}

// LatestCreatedAt returns the newest comment timestamp on a media item, nil if none.
func (r *CommentRepo) LatestCreatedAt(ctx context.Context, mediaID string) (*time.Time, error) {
	var latest sql.NullTime
	err := r.db.GetContext(ctx, &latest,
		`SELECT MAX(created_at) FROM instagram_comments WHERE media_id = $1`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest comment time: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	t := latest.Time.UTC()
	return &t, nil
}

// SetConversationID stores the thread conversation id.
func (r *CommentRepo) SetConversationID(ctx context.Context, id, conversationID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE instagram_comments SET conversation_id = $2 WHERE id = $1`,
		id, conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to set conversation id: %w", err)
	}
	return nil
}

// SetHidden records the hidden state confirmed by the platform.
func (r *CommentRepo) SetHidden(ctx context.Context, id string, hidden, byAI bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instagram_comments
		SET is_hidden = $2,
		    hidden_at = CASE WHEN $2 THEN now() ELSE NULL END,
		    hidden_by_ai = $2 AND $3
		WHERE id = $1`,
		id, hidden, byAI,
	)
	if err != nil {
		return fmt.Errorf("failed to set hidden: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("comment %s not found", id)
	}
	return nil
}

// MarkDeletedWithDescendants soft-deletes a comment and every reply below it.
func (r *CommentRepo) MarkDeletedWithDescendants(ctx context.Context, id string, byAI bool) (int, error) {
	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = uow.Rollback() }()

	var ids []string
	err = uow.tx.SelectContext(ctx, &ids, `
		WITH RECURSIVE thread AS (
			SELECT id FROM instagram_comments WHERE id = $1
			UNION
			SELECT c.id FROM instagram_comments c
			JOIN thread t ON c.parent_id = t.id
		)
		SELECT id FROM thread`,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to collect comment thread: %w", err)
	}

	n, err := uow.MarkCommentsDeleted(ctx, ids, byAI)
	if err != nil {
		return 0, err
	}
	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit comment deletion: %w", err)
	}
	return n, nil
}
