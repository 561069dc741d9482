package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/storage/memory"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task string, p tasks.Payload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, task+":"+p.CommentID)
	return true
}

type fixture struct {
	uc              *UseCase
	dispatcher      *fakeDispatcher
	comments        *memory.CommentRepo
	answers         *memory.AnswerRepo
	classifications *memory.ClassificationRepo
}

func newFixture() *fixture {
	store := memory.NewMemoryStorage()
	f := &fixture{
		dispatcher:      &fakeDispatcher{},
		comments:        memory.NewCommentRepo(store),
		answers:         memory.NewAnswerRepo(store),
		classifications: memory.NewClassificationRepo(store),
	}
	f.uc = New(f.comments, f.answers, f.classifications, f.dispatcher)
	return f
}

func TestIngest_NewComment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.uc.Ingest(ctx, &domain.Comment{ID: "c1", MediaID: "m1", Username: "anna", Text: "price?"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}

	c, _ := f.comments.GetByID(ctx, "c1")
	if c == nil || c.CreatedAt.IsZero() {
		t.Fatalf("expected stored comment with created_at, got %+v", c)
	}
	if len(f.dispatcher.calls) != 1 || f.dispatcher.calls[0] != "classify_comment:c1" {
		t.Errorf("expected classify dispatch, got %v", f.dispatcher.calls)
	}

	cls, _ := f.classifications.GetByCommentID(ctx, "c1")
	if cls == nil || cls.ProcessingStatus != domain.ProcessingPending || cls.MaxRetries == 0 {
		t.Errorf("expected PENDING classification row, got %+v", cls)
	}
}

func TestIngest_KeepsExistingClassification(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	comment := &domain.Comment{ID: "c1", MediaID: "m1", Text: "hi"}

	if _, err := f.uc.Ingest(ctx, comment); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	cls, _ := f.classifications.GetByCommentID(ctx, "c1")
	cls.ProcessingStatus = domain.ProcessingRetry
	cls.RetryCount = 2
	if err := f.classifications.Save(ctx, cls); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := f.uc.Ingest(ctx, comment); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	got, _ := f.classifications.GetByCommentID(ctx, "c1")
	if got.ProcessingStatus != domain.ProcessingRetry || got.RetryCount != 2 {
		t.Errorf("re-delivery must not reset the classification, got %+v", got)
	}
}

func TestIngest_IgnoresOwnReply(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.answers.Create(ctx, &domain.Answer{
		CommentID:   "c1",
		ReplySent:   true,
		ReplyID:     domain.Ptr("r-99"),
		ReplyStatus: domain.ReplyStatusSent,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := f.uc.Ingest(ctx, &domain.Comment{ID: "r-99", MediaID: "m1", ParentID: domain.Ptr("c1"), Text: "It is 50 EUR"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != domain.StatusSkipped || res.Reason != "own_reply" {
		t.Fatalf("expected own_reply skip, got %+v", res)
	}
	if c, _ := f.comments.GetByID(ctx, "r-99"); c != nil {
		t.Error("own reply must not be stored")
	}
	if len(f.dispatcher.calls) != 0 {
		t.Error("own reply must not be classified")
	}
}

func TestIngest_Existing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	comment := &domain.Comment{ID: "c1", MediaID: "m1", Text: "hi"}

	if _, err := f.uc.Ingest(ctx, comment); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	// Classification not finished yet: re-delivery queues it again.
	if res, _ := f.uc.Ingest(ctx, comment); res.Status != domain.StatusSuccess {
		t.Errorf("expected re-dispatch, got %+v", res)
	}

	if err := f.classifications.Save(ctx, &domain.Classification{CommentID: "c1", ProcessingStatus: domain.ProcessingCompleted}); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, _ := f.uc.Ingest(ctx, comment)
	if res.Status != domain.StatusSkipped {
		t.Errorf("expected skip for classified comment, got %+v", res)
	}
	if len(f.dispatcher.calls) != 2 {
		t.Errorf("expected 2 dispatches, got %d", len(f.dispatcher.calls))
	}
}

func TestIngest_Invalid(t *testing.T) {
	f := newFixture()
	_, err := f.uc.Ingest(context.Background(), &domain.Comment{ID: "c1"})
	if !errors.Is(err, ErrInvalidComment) {
		t.Errorf("expected ErrInvalidComment, got %v", err)
	}
}
