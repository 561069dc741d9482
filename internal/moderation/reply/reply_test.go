package reply

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lun1tunes/instachatico/internal/core/answer"
	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/platform"
	"github.com/lun1tunes/instachatico/internal/infra/redis"
	"github.com/lun1tunes/instachatico/internal/infra/storage/memory"
)

// =============================================================================
// Fakes
// =============================================================================

type fakePlatform struct {
	mu    sync.Mutex
	send  platform.Result
	hide  platform.Result
	sends []string
	hides []bool
}

func (f *fakePlatform) SendReply(ctx context.Context, commentID, message string) platform.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, message)
	return f.send
}

func (f *fakePlatform) HideComment(ctx context.Context, commentID string, hide bool) platform.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides = append(f.hides, hide)
	return f.hide
}

type fixture struct {
	uc       *UseCase
	platform *fakePlatform
	locker   *redis.Locker
	answers  *memory.AnswerRepo
	comments *memory.CommentRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.NewMemoryStorage()
	f := &fixture{
		platform: &fakePlatform{
			send: platform.Result{Success: true, ReplyID: "r-1"},
			hide: platform.Result{Success: true},
		},
		locker:   redis.NewLocker(redis.Wrap(rdb)),
		answers:  memory.NewAnswerRepo(store),
		comments: memory.NewCommentRepo(store),
	}
	f.uc = New(f.comments, f.answers, f.platform, f.locker, time.Minute)

	if err := f.comments.Save(context.Background(), &domain.Comment{ID: "c1", Text: "price?", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save comment: %v", err)
	}
	return f
}

func (f *fixture) generatedAnswer(t *testing.T, text string) *domain.Answer {
	t.Helper()
	a := &domain.Answer{
		CommentID:        "c1",
		ProcessingStatus: domain.ProcessingCompleted,
		Text:             domain.Ptr(text),
		IsAIGenerated:    true,
	}
	if err := f.answers.Create(context.Background(), a); err != nil {
		t.Fatalf("create answer: %v", err)
	}
	return a
}

// =============================================================================
// Send
// =============================================================================

func TestSend_GeneratedAnswer(t *testing.T) {
	f := newFixture(t)
	f.generatedAnswer(t, "It is 50 EUR")
	ctx := context.Background()

	res := f.uc.Send(ctx, "c1", 0)
	if res.Status != domain.StatusSuccess || res.ReplyID != "r-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.platform.sends[0] != "It is 50 EUR" {
		t.Errorf("expected stored answer to be sent, got %q", f.platform.sends[0])
	}

	a, _ := f.answers.GetActiveByCommentID(ctx, "c1")
	if !a.ReplySent || a.ReplyStatus != domain.ReplyStatusSent || a.ReplySentAt == nil || *a.ReplyID != "r-1" {
		t.Errorf("unexpected reply state %+v", a)
	}

	held, _ := f.locker.IsLocked(ctx, answer.ReplyLockName("c1"))
	if held {
		t.Error("lock should be released after send")
	}
}

func TestSend_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.generatedAnswer(t, "hello")
	ctx := context.Background()

	f.uc.Send(ctx, "c1", 0)
	res := f.uc.Send(ctx, "c1", 1)
	if res.Status != domain.StatusSkipped || res.ReplyID != "r-1" {
		t.Fatalf("expected skip with reply id, got %+v", res)
	}
	if len(f.platform.sends) != 1 {
		t.Errorf("expected exactly one platform send, got %d", len(f.platform.sends))
	}
}

func TestSend_SkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.generatedAnswer(t, "hello")
	ctx := context.Background()

	if _, ok, _ := f.locker.Acquire(ctx, answer.ReplyLockName("c1"), time.Minute); !ok {
		t.Fatal("expected to take the lock")
	}
	res := f.uc.Send(ctx, "c1", 0)
	if res.Status != domain.StatusSkipped || res.Reason != "reply_in_progress" {
		t.Fatalf("expected reply_in_progress skip, got %+v", res)
	}
	if len(f.platform.sends) != 0 {
		t.Error("locked comment must not be sent")
	}
}

func TestSend_SkipsYouTubeReplyTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.comments.Save(ctx, &domain.Comment{
		ID:       "yt-reply",
		Platform: domain.PlatformYouTube,
		MediaID:  "video-1",
		ParentID: domain.Ptr("yt-top"),
	}); err != nil {
		t.Fatalf("save comment: %v", err)
	}
	if err := f.answers.Create(ctx, &domain.Answer{CommentID: "yt-reply", Text: domain.Ptr("hi")}); err != nil {
		t.Fatalf("create answer: %v", err)
	}

	res := f.uc.Send(ctx, "yt-reply", 0)
	if res.Status != domain.StatusSkipped || res.Reason != "target_is_reply" {
		t.Fatalf("expected target_is_reply skip, got %+v", res)
	}
	if len(f.platform.sends) != 0 {
		t.Error("a YouTube reply must not be answered")
	}
}

func TestSend_NoAnswer(t *testing.T) {
	f := newFixture(t)
	res := f.uc.Send(context.Background(), "c1", 0)
	if res.Status != domain.StatusError || res.Reason != "no_generated_answer" {
		t.Fatalf("expected no_generated_answer, got %+v", res)
	}
}

func TestSend_PlatformOutcomes(t *testing.T) {
	tests := []struct {
		name            string
		result          platform.Result
		wantStatus      domain.Status
		wantRetryAfter  time.Duration
		wantReplyStatus domain.ReplyStatus
	}{
		{
			name:            "rate limited",
			result:          platform.Result{RateLimited: true, Transient: true, RetryAfter: 12 * time.Second, Error: "limit"},
			wantStatus:      domain.StatusRetry,
			wantRetryAfter:  12 * time.Second,
			wantReplyStatus: domain.ReplyStatusNone,
		},
		{
			name:            "transient",
			result:          platform.Result{Transient: true, StatusCode: 503, Error: "unavailable"},
			wantStatus:      domain.StatusRetry,
			wantReplyStatus: domain.ReplyStatusNone,
		},
		{
			name:            "rejected",
			result:          platform.Result{StatusCode: 400, Error: "Invalid parameter"},
			wantStatus:      domain.StatusError,
			wantReplyStatus: domain.ReplyStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.generatedAnswer(t, "hello")
			f.platform.send = tt.result
			ctx := context.Background()

			res := f.uc.Send(ctx, "c1", 0)
			if res.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %+v", tt.wantStatus, res)
			}
			if res.RetryAfter != tt.wantRetryAfter {
				t.Errorf("expected retry after %s, got %s", tt.wantRetryAfter, res.RetryAfter)
			}
			a, _ := f.answers.GetActiveByCommentID(ctx, "c1")
			if a.ReplySent {
				t.Error("failed send must not mark reply_sent")
			}
			if a.ReplyStatus != tt.wantReplyStatus {
				t.Errorf("expected reply status %s, got %s", tt.wantReplyStatus, a.ReplyStatus)
			}
		})
	}
}

// =============================================================================
// Hide
// =============================================================================

func TestHide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.uc.Hide(ctx, "c1", true, domain.InitiatorAI)
	if res.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	c, _ := f.comments.GetByID(ctx, "c1")
	if !c.IsHidden || !c.HiddenByAI || c.HiddenAt == nil {
		t.Errorf("unexpected hidden state %+v", c)
	}

	if res := f.uc.Hide(ctx, "c1", true, domain.InitiatorAI); res.Status != domain.StatusSkipped {
		t.Errorf("expected skip when already hidden, got %s", res.Status)
	}
	if len(f.platform.hides) != 1 {
		t.Errorf("expected one platform call, got %d", len(f.platform.hides))
	}

	if res := f.uc.Hide(ctx, "c1", false, domain.InitiatorManual); res.Status != domain.StatusSuccess {
		t.Fatalf("expected unhide success, got %+v", res)
	}
	c, _ = f.comments.GetByID(ctx, "c1")
	if c.IsHidden || c.HiddenByAI {
		t.Errorf("expected visible comment, got %+v", c)
	}
}

func TestHide_PlatformFailure(t *testing.T) {
	tests := []struct {
		name   string
		result platform.Result
		want   domain.Status
	}{
		{"transient", platform.Result{Transient: true, Error: "try later"}, domain.StatusRetry},
		{"rejected", platform.Result{StatusCode: 400, Error: "not allowed"}, domain.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.platform.hide = tt.result
			ctx := context.Background()

			res := f.uc.Hide(ctx, "c1", true, domain.InitiatorAI)
			if res.Status != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, res)
			}
			c, _ := f.comments.GetByID(ctx, "c1")
			if c.IsHidden {
				t.Error("failed hide must not change local state")
			}
		})
	}
}

func TestHide_MissingComment(t *testing.T) {
	f := newFixture(t)
	if res := f.uc.Hide(context.Background(), "nope", true, domain.InitiatorManual); res.Status != domain.StatusError {
		t.Errorf("expected error, got %s", res.Status)
	}
}
