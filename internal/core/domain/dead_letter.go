package domain

import "time"

// DeadLetter records a unit of work that ran out of retries.
type DeadLetter struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	WorkID    string    `json:"work_id"`
	CommentID string    `json:"comment_id"`
	Attempt   int       `json:"attempt"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
