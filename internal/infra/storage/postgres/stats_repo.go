package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

// StatsRepo implements storage.StatsRepository using PostgreSQL.
type StatsRepo struct {
	db *DB
}

// NewStatsRepo creates a new PostgreSQL stats repository.
func NewStatsRepo(db *DB) *StatsRepo {
	return &StatsRepo{db: db}
}

type statsCounters struct {
	CommentsReceived   int `db:"comments_received"`
	CommentsHidden     int `db:"comments_hidden"`
	CommentsDeleted    int `db:"comments_deleted"`
	ClassificationFail int `db:"classification_failed"`
	AnswersGenerated   int `db:"answers_generated"`
	ManualAnswers      int `db:"manual_answers"`
	RepliesSent        int `db:"replies_sent"`
}

// Collect aggregates activity in [from, to).
func (r *StatsRepo) Collect(ctx context.Context, from, to time.Time) (*domain.ModerationStats, error) {
	var c statsCounters
	err := r.db.GetContext(ctx, &c, `
		SELECT
			(SELECT COUNT(*) FROM instagram_comments
			 WHERE created_at >= $1 AND created_at < $2) AS comments_received,
			(SELECT COUNT(*) FROM instagram_comments
			 WHERE hidden_at >= $1 AND hidden_at < $2) AS comments_hidden,
			(SELECT COUNT(*) FROM instagram_comments
			 WHERE deleted_at >= $1 AND deleted_at < $2) AS comments_deleted,
			(SELECT COUNT(*) FROM comments_classification
			 WHERE processing_status = 'FAILED'
			   AND processing_completed_at >= $1 AND processing_completed_at < $2) AS classification_failed,
			(SELECT COUNT(*) FROM question_messages_answers
			 WHERE is_ai_generated
			   AND processing_completed_at >= $1 AND processing_completed_at < $2) AS answers_generated,
			(SELECT COUNT(*) FROM question_messages_answers
			 WHERE NOT is_ai_generated
			   AND created_at >= $1 AND created_at < $2) AS manual_answers,
			(SELECT COUNT(*) FROM question_messages_answers
			 WHERE reply_sent_at >= $1 AND reply_sent_at < $2) AS replies_sent`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}

	var byType []struct {
		Type  string `db:"type"`
		Count int    `db:"count"`
	}
	err = r.db.SelectContext(ctx, &byType, `
		SELECT LOWER(TRIM(COALESCE(type, ''))) AS type, COUNT(*) AS count
		FROM comments_classification
		WHERE processing_status = 'COMPLETED'
		  AND processing_completed_at >= $1 AND processing_completed_at < $2
		GROUP BY 1`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count classification types: %w", err)
	}

	tokens, err := tokenTotals(ctx, r.db, from, to)
	if err != nil {
		return nil, err
	}

	stats := &domain.ModerationStats{
		PeriodStart:        from,
		PeriodEnd:          to,
		CommentsReceived:   c.CommentsReceived,
		Classifications:    make(map[string]int, len(byType)),
		ClassificationFail: c.ClassificationFail,
		AnswersGenerated:   c.AnswersGenerated,
		RepliesSent:        c.RepliesSent,
		ManualAnswers:      c.ManualAnswers,
		CommentsHidden:     c.CommentsHidden,
		CommentsDeleted:    c.CommentsDeleted,
		Tokens:             tokens,
	}
	for _, t := range byType {
		stats.Classifications[t.Type] = t.Count
	}
	return stats, nil
}

// SaveReport persists a report with its payload as JSONB.
func (r *StatsRepo) SaveReport(ctx context.Context, rep *domain.StatsReport) error {
	payload, err := json.Marshal(rep.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO moderation_stats_reports (period_start, period_end, payload)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id, created_at`,
		rep.PeriodStart, rep.PeriodEnd, string(payload),
	)
	if err := row.Scan(&rep.ID, &rep.CreatedAt); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// LatestReport returns the newest report.
func (r *StatsRepo) LatestReport(ctx context.Context) (*domain.StatsReport, error) {
	var row struct {
		ID          int64     `db:"id"`
		PeriodStart time.Time `db:"period_start"`
		PeriodEnd   time.Time `db:"period_end"`
		Payload     []byte    `db:"payload"`
		CreatedAt   time.Time `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, period_start, period_end, payload, created_at
		FROM moderation_stats_reports
		ORDER BY created_at DESC, id DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}

	rep := &domain.StatsReport{
		ID:          row.ID,
		PeriodStart: row.PeriodStart,
		PeriodEnd:   row.PeriodEnd,
		CreatedAt:   row.CreatedAt,
	}
	if err := json.Unmarshal(row.Payload, &rep.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return rep, nil
}
