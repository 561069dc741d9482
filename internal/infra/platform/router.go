package platform

import (
	"context"
	"fmt"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

// CommentFinder loads a stored comment, nil if missing.
type CommentFinder interface {
	GetByID(ctx context.Context, id string) (*domain.Comment, error)
}

// ReplyFinder loads the active answer that owns an external reply, nil if missing.
type ReplyFinder interface {
	GetActiveByReplyID(ctx context.Context, replyID string) (*domain.Answer, error)
}

// Router sends each call to the client of the platform the comment came from.
// Comments it cannot place go to the default client.
type Router struct {
	def      Client
	clients  map[domain.Platform]Client
	comments CommentFinder
	answers  ReplyFinder
}

// NewRouter creates a router with def as the Instagram client.
func NewRouter(def Client, comments CommentFinder, answers ReplyFinder) *Router {
	return &Router{
		def:      def,
		clients:  map[domain.Platform]Client{domain.PlatformInstagram: def},
		comments: comments,
		answers:  answers,
	}
}

// Register adds the client for p.
func (r *Router) Register(p domain.Platform, c Client) *Router {
	r.clients[p] = c
	return r
}

func (r *Router) SendReply(ctx context.Context, commentID, message string) Result {
	c, res := r.forComment(ctx, commentID)
	if c == nil {
		return res
	}
	return c.SendReply(ctx, commentID, message)
}

func (r *Router) DeleteReply(ctx context.Context, replyID string) Result {
	a, err := r.answers.GetActiveByReplyID(ctx, replyID)
	if err != nil {
		return lookupFailed(err)
	}
	if a == nil {
		return r.def.DeleteReply(ctx, replyID)
	}
	c, res := r.forComment(ctx, a.CommentID)
	if c == nil {
		return res
	}
	return c.DeleteReply(ctx, replyID)
}

func (r *Router) DeleteItem(ctx context.Context, itemID string) Result {
	c, res := r.forComment(ctx, itemID)
	if c == nil {
		return res
	}
	return c.DeleteItem(ctx, itemID)
}

func (r *Router) HideComment(ctx context.Context, commentID string, hide bool) Result {
	c, res := r.forComment(ctx, commentID)
	if c == nil {
		return res
	}
	return c.HideComment(ctx, commentID, hide)
}

func (r *Router) forComment(ctx context.Context, commentID string) (Client, Result) {
	comment, err := r.comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, lookupFailed(err)
	}
	if comment == nil || comment.Platform == "" {
		return r.def, Result{}
	}
	c, ok := r.clients[comment.Platform]
	if !ok {
		return nil, Result{Error: fmt.Sprintf("no client for platform %q", comment.Platform)}
	}
	return c, Result{}
}

func lookupFailed(err error) Result {
	return Result{Error: fmt.Sprintf("failed to resolve platform: %v", err), Transient: true}
}
