package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

// TokenUsageRepo implements storage.TokenUsageRepository using PostgreSQL.
type TokenUsageRepo struct {
	db *DB
}

// NewTokenUsageRepo creates a new PostgreSQL token usage repository.
func NewTokenUsageRepo(db *DB) *TokenUsageRepo {
	return &TokenUsageRepo{db: db}
}

// Append records one invocation.
func (r *TokenUsageRepo) Append(ctx context.Context, u *domain.TokenUsage) error {
	var details *string
	if len(u.Details) > 0 {
		raw, err := json.Marshal(u.Details)
		if err != nil {
			return fmt.Errorf("failed to encode usage details: %w", err)
		}
		s := string(raw)
		details = &s
	}

	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO instrument_token_usage (tool, task, model, tokens_in, tokens_out, comment_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING id, created_at`,
		u.Tool, u.Task, u.Model, u.TokensIn, u.TokensOut, u.CommentID, details,
	)
	if err := row.Scan(&u.ID, &u.CreatedAt); err != nil {
		return fmt.Errorf("failed to append token usage: %w", err)
	}
	return nil
}

// Totals sums usage per model in [from, to).
func (r *TokenUsageRepo) Totals(ctx context.Context, from, to time.Time) ([]domain.TokenTotals, error) {
	return tokenTotals(ctx, r.db, from, to)
}

func tokenTotals(ctx context.Context, q sqlx.QueryerContext, from, to time.Time) ([]domain.TokenTotals, error) {
	totals := []domain.TokenTotals{}
	err := sqlx.SelectContext(ctx, q, &totals, `
		SELECT model,
		       COUNT(*) AS calls,
		       COALESCE(SUM(tokens_in), 0) AS tokens_in,
		       COALESCE(SUM(tokens_out), 0) AS tokens_out
		FROM instrument_token_usage
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY model
		ORDER BY model`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum token usage: %w", err)
	}
	return totals, nil
}
