package domain

import "time"

// Status is the outcome of one unit of work.
type Status string

const (
	StatusSuccess Status = "success"
	StatusRetry   Status = "retry"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Result is the structured outcome every use case returns instead of an error.
type Result struct {
	Status     Status        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	CommentID      string  `json:"comment_id,omitempty"`
	Classification string  `json:"classification,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	AnswerID       int64   `json:"answer_id,omitempty"`
	Answer         string  `json:"answer,omitempty"`
	ReplyID        string  `json:"reply_id,omitempty"`
	DeletedCount   int     `json:"deleted_count,omitempty"`
	NewComments    int     `json:"new_comments,omitempty"`
}

func Success(commentID string) Result {
	return Result{Status: StatusSuccess, CommentID: commentID}
}

func Retry(reason string, after time.Duration) Result {
	return Result{Status: StatusRetry, Reason: reason, RetryAfter: after}
}

func Failure(reason string) Result {
	return Result{Status: StatusError, Reason: reason}
}

func Skipped(reason string) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}
