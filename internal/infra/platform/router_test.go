package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

type namedClient struct {
	name  string
	calls []string
}

func (c *namedClient) SendReply(ctx context.Context, commentID, message string) Result {
	c.calls = append(c.calls, "send:"+commentID)
	return Result{Success: true, ReplyID: c.name + "-reply"}
}

func (c *namedClient) DeleteReply(ctx context.Context, replyID string) Result {
	c.calls = append(c.calls, "delete_reply:"+replyID)
	return Result{Success: true}
}

func (c *namedClient) DeleteItem(ctx context.Context, itemID string) Result {
	c.calls = append(c.calls, "delete:"+itemID)
	return Result{Success: true}
}

func (c *namedClient) HideComment(ctx context.Context, commentID string, hide bool) Result {
	c.calls = append(c.calls, "hide:"+commentID)
	return Result{Success: true}
}

type staticComments map[string]*domain.Comment

func (s staticComments) GetByID(ctx context.Context, id string) (*domain.Comment, error) {
	if id == "broken" {
		return nil, errors.New("db down")
	}
	return s[id], nil
}

type staticReplies map[string]*domain.Answer

func (s staticReplies) GetActiveByReplyID(ctx context.Context, replyID string) (*domain.Answer, error) {
	return s[replyID], nil
}

func TestRouter_RoutesByCommentPlatform(t *testing.T) {
	ig := &namedClient{name: "ig"}
	yt := &namedClient{name: "yt"}
	comments := staticComments{
		"ig-1": {ID: "ig-1", Platform: domain.PlatformInstagram},
		"yt-1": {ID: "yt-1", Platform: domain.PlatformYouTube},
	}
	replies := staticReplies{"yt-reply": {CommentID: "yt-1"}}
	r := NewRouter(ig, comments, replies).Register(domain.PlatformYouTube, yt)
	ctx := context.Background()

	if res := r.SendReply(ctx, "yt-1", "hi"); res.ReplyID != "yt-reply" {
		t.Errorf("expected youtube client, got %+v", res)
	}
	r.HideComment(ctx, "ig-1", true)
	r.DeleteItem(ctx, "yt-1")
	r.DeleteReply(ctx, "yt-reply")
	r.DeleteReply(ctx, "unknown-reply")
	r.SendReply(ctx, "unknown", "hi")

	wantIG := []string{"hide:ig-1", "delete_reply:unknown-reply", "send:unknown"}
	wantYT := []string{"send:yt-1", "delete:yt-1", "delete_reply:yt-reply"}
	if len(ig.calls) != len(wantIG) || len(yt.calls) != len(wantYT) {
		t.Fatalf("unexpected calls ig=%v yt=%v", ig.calls, yt.calls)
	}
	for i := range wantIG {
		if ig.calls[i] != wantIG[i] {
			t.Errorf("ig call %d: expected %s, got %s", i, wantIG[i], ig.calls[i])
		}
	}
	for i := range wantYT {
		if yt.calls[i] != wantYT[i] {
			t.Errorf("yt call %d: expected %s, got %s", i, wantYT[i], yt.calls[i])
		}
	}
}

func TestRouter_Failures(t *testing.T) {
	ig := &namedClient{name: "ig"}
	comments := staticComments{"yt-1": {ID: "yt-1", Platform: domain.PlatformYouTube}}
	r := NewRouter(ig, comments, staticReplies{})
	ctx := context.Background()

	if res := r.SendReply(ctx, "broken", "hi"); res.Success || !res.Transient {
		t.Errorf("lookup failure must be transient, got %+v", res)
	}
	if res := r.SendReply(ctx, "yt-1", "hi"); res.Success || res.Transient {
		t.Errorf("unregistered platform must fail permanently, got %+v", res)
	}
	if len(ig.calls) != 0 {
		t.Errorf("default client must not be called, got %v", ig.calls)
	}
}
