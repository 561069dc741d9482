package domain

import "time"

// TokenUsage is an append-only ledger row for one LLM or tool invocation.
type TokenUsage struct {
	ID        int64          `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Tool      string         `json:"tool"`
	Task      string         `json:"task"`
	Model     string         `json:"model"`
	TokensIn  int            `json:"tokens_in"`
	TokensOut int            `json:"tokens_out"`
	CommentID *string        `json:"comment_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// TokenTotals aggregates usage for one model.
type TokenTotals struct {
	Model     string `json:"model"      db:"model"`
	Calls     int    `json:"calls"      db:"calls"`
	TokensIn  int    `json:"tokens_in"  db:"tokens_in"`
	TokensOut int    `json:"tokens_out" db:"tokens_out"`
}
