package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation = "23505"

	activeAnswerConstraint = "uq_question_messages_answers_comment_active"
)

// isActiveAnswerConflict reports whether err is the partial unique index on
// active answers rejecting a second row.
func isActiveAnswerConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeAnswerConstraint
}
