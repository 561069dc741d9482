package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
)

// UnitOfWork bundles persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// SoftDeleteAnswer marks an active answer deleted. Timestamps are left as they were.
func (u *UnitOfWork) SoftDeleteAnswer(ctx context.Context, id int64) error {
	return softDeleteAnswer(ctx, u.tx, id)
}

// InsertAnswer inserts a new active answer, filling ID and CreatedAt.
func (u *UnitOfWork) InsertAnswer(ctx context.Context, a *domain.Answer) error {
	return insertAnswer(ctx, u.tx, a)
}

// MarkCommentsDeleted flags the given comments deleted and returns the affected row count.
func (u *UnitOfWork) MarkCommentsDeleted(ctx context.Context, ids []string, byAI bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := u.tx.ExecContext(ctx, `
		UPDATE instagram_comments
		SET is_deleted = TRUE,
		    deleted_at = now(),
		    deleted_by_ai = $2,
		    is_hidden = FALSE,
		    hidden_at = NULL
		WHERE id = ANY($1)`,
		pq.Array(ids), byAI,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark comments deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func softDeleteAnswer(ctx context.Context, ext sqlx.ExecerContext, id int64) error {
	res, err := ext.ExecContext(ctx, `
		UPDATE question_messages_answers
		SET is_deleted = TRUE,
		    reply_status = 'deleted',
		    reply_error = NULL
		WHERE id = $1 AND is_deleted = FALSE`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to soft delete answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("answer %d: %w", id, storage.ErrAnswerNotFound)
	}
	return nil
}
