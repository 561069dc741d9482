package platform

import (
	"context"
	"time"
)

// Result is the uniform envelope returned by every platform call.
// Callers branch on Success; the remaining fields explain a failure.
type Result struct {
	Success    bool
	ReplyID    string
	StatusCode int
	Error      string

	// RateLimited is set when the local quota rejected the call before it was made.
	RateLimited bool
	RetryAfter  time.Duration

	// Transient marks failures worth retrying (timeouts, 429, 5xx, transient Graph codes).
	Transient bool
}

// Client talks to the external comment platform.
type Client interface {
	SendReply(ctx context.Context, commentID, message string) Result
	DeleteReply(ctx context.Context, replyID string) Result
	DeleteItem(ctx context.Context, itemID string) Result
	HideComment(ctx context.Context, commentID string, hide bool) Result
}

// Limiter admits outbound calls against a shared quota.
type Limiter interface {
	Acquire(ctx context.Context) (allowed bool, retryAfter time.Duration, err error)
}
