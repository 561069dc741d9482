package platform

import (
	"context"
	"fmt"
	"log/slog"
)

// Limited gates SendReply behind a shared rate limiter. Other calls pass through.
type Limited struct {
	Client
	limiter Limiter
	log     *slog.Logger
}

// NewLimited wraps client with the reply quota enforced by limiter.
func NewLimited(client Client, limiter Limiter) *Limited {
	return &Limited{
		Client:  client,
		limiter: limiter,
		log:     slog.Default().With("component", "platform_limiter"),
	}
}

// SendReply acquires one slot before sending. A rejected acquisition is reported
// as RateLimited with the limiter's delay; a limiter failure is transient.
func (l *Limited) SendReply(ctx context.Context, commentID, message string) Result {
	allowed, retryAfter, err := l.limiter.Acquire(ctx)
	if err != nil {
		l.log.Error("Rate limiter unavailable", "comment_id", commentID, "error", err)
		return Result{
			Error:     fmt.Sprintf("rate limiter: %v", err),
			Transient: true,
		}
	}
	if !allowed {
		l.log.Warn("Reply deferred by rate limit", "comment_id", commentID, "retry_after", retryAfter)
		return Result{
			Error:       "platform rate limit reached",
			RateLimited: true,
			RetryAfter:  retryAfter,
			Transient:   true,
		}
	}
	return l.Client.SendReply(ctx, commentID, message)
}
