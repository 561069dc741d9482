package generate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/answer"
	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
	"github.com/lun1tunes/instachatico/internal/infra/storage/memory"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

type fakeLLM struct {
	mu    sync.Mutex
	calls int
	kinds []string
	out   *domain.AnswerOutcome
	err   error
}

func (f *fakeLLM) Answer(ctx context.Context, comment *domain.Comment, classification string) (*domain.AnswerOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.kinds = append(f.kinds, classification)
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.out
	return &cp, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task string, p tasks.Payload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task+":"+p.CommentID)
	return true
}

// conflictCreator simulates losing the insert race to another worker.
type conflictCreator struct {
	answers *memory.AnswerRepo
}

func (c *conflictCreator) Create(ctx context.Context, draft *domain.Answer) (*domain.Answer, error) {
	winner := &domain.Answer{CommentID: draft.CommentID, IsAIGenerated: true, ProcessingStatus: domain.ProcessingPending}
	if err := c.answers.Create(ctx, winner); err != nil {
		return nil, err
	}
	return nil, storage.ErrActiveAnswerExists
}

type fixture struct {
	uc         *UseCase
	llm        *fakeLLM
	dispatcher *fakeDispatcher
	answers    *memory.AnswerRepo
	comments   *memory.CommentRepo
	usage      *memory.TokenUsageRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewMemoryStorage()
	f := &fixture{
		llm: &fakeLLM{out: &domain.AnswerOutcome{
			Text:         "It is 50 EUR",
			Confidence:   0.8,
			QualityScore: 85,
			Model:        "claude-test",
			InputTokens:  200,
			OutputTokens: 40,
		}},
		dispatcher: &fakeDispatcher{},
		answers:    memory.NewAnswerRepo(store),
		comments:   memory.NewCommentRepo(store),
		usage:      memory.NewTokenUsageRepo(store),
	}
	classifications := memory.NewClassificationRepo(store)
	lifecycle := answer.NewLifecycle(f.answers, f.comments, nil)
	f.uc = New(f.comments, classifications, f.answers, lifecycle, f.usage, f.llm, nil, f.dispatcher)

	ctx := context.Background()
	if err := f.comments.Save(ctx, &domain.Comment{ID: "c1", Text: "price?", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save comment: %v", err)
	}
	if err := classifications.Save(ctx, &domain.Classification{
		CommentID:        "c1",
		ProcessingStatus: domain.ProcessingCompleted,
		Type:             domain.Ptr(domain.TypeQuestion),
	}); err != nil {
		t.Fatalf("save classification: %v", err)
	}
	return f
}

func TestGenerate_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.uc.Generate(ctx, "c1", 0)
	if res.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Answer != "It is 50 EUR" || res.AnswerID == 0 {
		t.Errorf("unexpected result %+v", res)
	}

	a, _ := f.answers.GetActiveByCommentID(ctx, "c1")
	if a.ProcessingStatus != domain.ProcessingCompleted || !a.IsAIGenerated {
		t.Errorf("unexpected answer state %s ai=%v", a.ProcessingStatus, a.IsAIGenerated)
	}
	if *a.QualityScore != 85 || *a.Confidence != 0.8 {
		t.Errorf("unexpected scores %d/%v", *a.QualityScore, *a.Confidence)
	}
	if a.ProcessingStartedAt == nil || a.ProcessingCompletedAt == nil || a.ProcessingTimeMs == nil {
		t.Error("expected processing timestamps and duration")
	}
	if f.llm.kinds[0] != domain.TypeQuestion {
		t.Errorf("expected classification passed to LLM, got %q", f.llm.kinds[0])
	}
	if len(f.dispatcher.tasks) != 1 || f.dispatcher.tasks[0] != tasks.TaskSendReply+":c1" {
		t.Errorf("expected send_reply dispatch, got %v", f.dispatcher.tasks)
	}

	totals, _ := f.usage.Totals(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if len(totals) != 1 || totals[0].Calls != 1 {
		t.Errorf("expected one usage row, got %+v", totals)
	}
}

func TestGenerate_CompletedAnswerOnlyRedispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.uc.Generate(ctx, "c1", 0)
	res := f.uc.Generate(ctx, "c1", 1)
	if res.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if f.llm.calls != 1 {
		t.Errorf("expected a single LLM call, got %d", f.llm.calls)
	}
	if len(f.dispatcher.tasks) != 2 {
		t.Errorf("expected send_reply to be re-dispatched, got %v", f.dispatcher.tasks)
	}
}

func TestGenerate_SkipsManualAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	manual := &domain.Answer{
		CommentID:        "c1",
		Text:             domain.Ptr("manual reply"),
		ProcessingStatus: domain.ProcessingCompleted,
		IsAIGenerated:    false,
		ReplySent:        true,
		ReplyStatus:      domain.ReplyStatusSent,
	}
	if err := f.answers.Create(ctx, manual); err != nil {
		t.Fatalf("create: %v", err)
	}

	res := f.uc.Generate(ctx, "c1", 0)
	if res.Status != domain.StatusSkipped || res.Reason != "manual_answer" {
		t.Fatalf("expected manual_answer skip, got %+v", res)
	}
	if f.llm.calls != 0 {
		t.Error("manual answers must not be regenerated")
	}
}

func TestGenerate_LosesCreateRace(t *testing.T) {
	f := newFixture(t)
	f.uc.creator = &conflictCreator{answers: f.answers}
	ctx := context.Background()

	res := f.uc.Generate(ctx, "c1", 0)
	if res.Status != domain.StatusSuccess {
		t.Fatalf("expected success on the winner's row, got %+v", res)
	}
	a, _ := f.answers.GetActiveByCommentID(ctx, "c1")
	if a.AnswerText() != "It is 50 EUR" {
		t.Errorf("expected the winning row to be filled, got %q", a.AnswerText())
	}
}

func TestGenerate_FailureRetriesUntilCutoff(t *testing.T) {
	f := newFixture(t)
	f.llm.err = domain.MarkTransient(errors.New("overloaded"))
	ctx := context.Background()

	res := f.uc.Generate(ctx, "c1", 0)
	if res.Status != domain.StatusRetry {
		t.Fatalf("expected retry, got %+v", res)
	}
	a, _ := f.answers.GetActiveByCommentID(ctx, "c1")
	if a.ProcessingStatus != domain.ProcessingRetry || a.LastError == nil {
		t.Errorf("expected RETRY with error, got %s", a.ProcessingStatus)
	}

	res = f.uc.Generate(ctx, "c1", a.MaxRetries)
	if res.Status != domain.StatusError {
		t.Fatalf("expected error at cutoff, got %+v", res)
	}
	a, _ = f.answers.GetActiveByCommentID(ctx, "c1")
	if a.ProcessingStatus != domain.ProcessingFailed {
		t.Errorf("expected FAILED, got %s", a.ProcessingStatus)
	}
	if len(f.dispatcher.tasks) != 0 {
		t.Error("failed generation must not queue a reply")
	}
}

func TestGenerate_RejectedRequestFailsAtOnce(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("400 invalid_request_error")
	ctx := context.Background()

	res := f.uc.Generate(ctx, "c1", 0)
	if res.Status != domain.StatusError {
		t.Fatalf("expected error for a rejected request, got %+v", res)
	}
	a, _ := f.answers.GetActiveByCommentID(ctx, "c1")
	if a.ProcessingStatus != domain.ProcessingFailed || a.ProcessingCompletedAt == nil {
		t.Errorf("expected FAILED, got %+v", a)
	}
	if f.llm.calls != 1 {
		t.Errorf("expected one llm call, got %d", f.llm.calls)
	}
}

func TestGenerate_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if res := f.uc.Generate(ctx, "missing", 0); res.Status != domain.StatusError {
		t.Errorf("expected error for missing comment, got %s", res.Status)
	}

	if err := f.comments.Save(ctx, &domain.Comment{ID: "c2", Text: "hi"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if res := f.uc.Generate(ctx, "c2", 0); res.Status != domain.StatusError || res.Reason != "comment_not_classified" {
		t.Errorf("expected comment_not_classified, got %+v", res)
	}
}
