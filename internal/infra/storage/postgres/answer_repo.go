package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
)

const answerColumns = `id, comment_id, processing_status, processing_started_at, processing_completed_at,
	retry_count, max_retries, last_error, answer, answer_confidence, answer_quality_score,
	input_tokens, output_tokens, processing_time_ms, is_ai_generated, reply_sent, reply_sent_at,
	reply_status, reply_error, reply_id, is_deleted, created_at`

const insertAnswerQuery = `
	INSERT INTO question_messages_answers (
		comment_id, processing_status, processing_started_at, processing_completed_at,
		retry_count, max_retries, last_error, answer, answer_confidence, answer_quality_score,
		input_tokens, output_tokens, processing_time_ms, is_ai_generated, reply_sent, reply_sent_at,
		reply_status, reply_error, reply_id, is_deleted
	) VALUES (
		:comment_id, :processing_status, :processing_started_at, :processing_completed_at,
		:retry_count, :max_retries, :last_error, :answer, :answer_confidence, :answer_quality_score,
		:input_tokens, :output_tokens, :processing_time_ms, :is_ai_generated, :reply_sent, :reply_sent_at,
		:reply_status, :reply_error, :reply_id, FALSE
	)
	RETURNING id, created_at`

const updateAnswerQuery = `
	UPDATE question_messages_answers SET
		processing_status = :processing_status,
		processing_started_at = :processing_started_at,
		processing_completed_at = :processing_completed_at,
		retry_count = :retry_count,
		max_retries = :max_retries,
		last_error = :last_error,
		answer = :answer,
		answer_confidence = :answer_confidence,
		answer_quality_score = :answer_quality_score,
		input_tokens = :input_tokens,
		output_tokens = :output_tokens,
		processing_time_ms = :processing_time_ms,
		reply_sent = :reply_sent,
		reply_sent_at = :reply_sent_at,
		reply_status = :reply_status,
		reply_error = :reply_error,
		reply_id = :reply_id
	WHERE id = :id AND is_deleted = FALSE`

// AnswerRepo implements storage.AnswerRepository using PostgreSQL.
// The partial unique index uq_question_messages_answers_comment_active is
// the only guard against two active answers.
type AnswerRepo struct {
	db *DB
}

// NewAnswerRepo creates a new PostgreSQL answer repository.
func NewAnswerRepo(db *DB) *AnswerRepo {
	return &AnswerRepo{db: db}
}

// Create inserts a new active answer.
func (r *AnswerRepo) Create(ctx context.Context, a *domain.Answer) error {
	return insertAnswer(ctx, r.db, a)
}

// GetByID retrieves an answer including soft-deleted rows.
func (r *AnswerRepo) GetByID(ctx context.Context, id int64) (*domain.Answer, error) {
	return r.getOne(ctx, `SELECT `+answerColumns+` FROM question_messages_answers WHERE id = $1`, id)
}

// GetActiveByCommentID retrieves the active answer of a comment.
func (r *AnswerRepo) GetActiveByCommentID(ctx context.Context, commentID string) (*domain.Answer, error) {
	return r.getOne(ctx, `
		SELECT `+answerColumns+` FROM question_messages_answers
		WHERE comment_id = $1 AND is_deleted = FALSE`,
		commentID,
	)
}

// GetActiveByReplyID retrieves the active answer that produced an external reply.
func (r *AnswerRepo) GetActiveByReplyID(ctx context.Context, replyID string) (*domain.Answer, error) {
	return r.getOne(ctx, `
		SELECT `+answerColumns+` FROM question_messages_answers
		WHERE reply_id = $1 AND is_deleted = FALSE`,
		replyID,
	)
}

// Update persists processing and reply fields of an active answer.
func (r *AnswerRepo) Update(ctx context.Context, a *domain.Answer) error {
	res, err := r.db.NamedExecContext(ctx, updateAnswerQuery, a)
	if err != nil {
		return fmt.Errorf("failed to update answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("answer %d: %w", a.ID, storage.ErrAnswerNotFound)
	}
	return nil
}

// SoftDelete marks an active answer deleted.
func (r *AnswerRepo) SoftDelete(ctx context.Context, id int64) error {
	return softDeleteAnswer(ctx, r.db, id)
}

// Supersede soft-deletes oldID and inserts replacement in one transaction.
func (r *AnswerRepo) Supersede(ctx context.Context, oldID int64, replacement *domain.Answer) error {
	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	if err := uow.SoftDeleteAnswer(ctx, oldID); err != nil {
		return err
	}
	if err := uow.InsertAnswer(ctx, replacement); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		if isActiveAnswerConflict(err) {
			return fmt.Errorf("comment %s: %w", replacement.CommentID, storage.ErrActiveAnswerExists)
		}
		return fmt.Errorf("failed to commit answer replacement: %w", err)
	}
	return nil
}

func (r *AnswerRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Answer, error) {
	var a domain.Answer
	err := r.db.GetContext(ctx, &a, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &a, nil
}

func insertAnswer(ctx context.Context, ext sqlx.ExtContext, a *domain.Answer) error {
	if a.ProcessingStatus == "" {
		a.ProcessingStatus = domain.ProcessingPending
	}
	if a.ReplyStatus == "" {
		a.ReplyStatus = domain.ReplyStatusNone
	}

	rows, err := sqlx.NamedQueryContext(ctx, ext, insertAnswerQuery, a)
	if err != nil {
		return wrapInsertErr(a, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return wrapInsertErr(a, err)
		}
		return fmt.Errorf("failed to insert answer: no row returned")
	}
	if err := rows.Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("failed to scan answer id: %w", err)
	}
	a.IsDeleted = false
	return nil
}

func wrapInsertErr(a *domain.Answer, err error) error {
	if isActiveAnswerConflict(err) {
		return fmt.Errorf("comment %s: %w", a.CommentID, storage.ErrActiveAnswerExists)
	}
	return fmt.Errorf("failed to insert answer: %w", err)
}
