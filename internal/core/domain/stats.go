package domain

import "time"

// ModerationStats aggregates pipeline activity over a period.
type ModerationStats struct {
	PeriodStart        time.Time      `json:"period_start"`
	PeriodEnd          time.Time      `json:"period_end"`
	CommentsReceived   int            `json:"comments_received"`
	Classifications    map[string]int `json:"classifications"`
	ClassificationFail int            `json:"classification_failed"`
	AnswersGenerated   int            `json:"answers_generated"`
	RepliesSent        int            `json:"replies_sent"`
	ManualAnswers      int            `json:"manual_answers"`
	CommentsHidden     int            `json:"comments_hidden"`
	CommentsDeleted    int            `json:"comments_deleted"`
	Tokens             []TokenTotals  `json:"tokens"`
}

// StatsReport is a persisted ModerationStats snapshot.
type StatsReport struct {
	ID          int64           `json:"id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Payload     ModerationStats `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}
