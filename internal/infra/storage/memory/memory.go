package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
)

// MemoryStorage keeps every table in process memory. It enforces the same
// single-active-answer constraint as the database.
type MemoryStorage struct {
	comments        map[string]*domain.Comment
	answers         map[int64]*domain.Answer
	classifications map[string]*domain.Classification
	usage           []*domain.TokenUsage
	reports         []*domain.StatsReport
	nextAnswerID    int64
	nextClassID     int64
	nextUsageID     int64
	mu              sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		comments:        make(map[string]*domain.Comment),
		answers:         make(map[int64]*domain.Answer),
		classifications: make(map[string]*domain.Classification),
	}
}

// activeAnswerLocked must be called with mu held.
func (s *MemoryStorage) activeAnswerLocked(commentID string) *domain.Answer {
	for _, a := range s.answers {
		if a.CommentID == commentID && !a.IsDeleted {
			return a
		}
	}
	return nil
}

func (s *MemoryStorage) insertAnswerLocked(a *domain.Answer) error {
	if s.activeAnswerLocked(a.CommentID) != nil {
		return fmt.Errorf("comment %s: %w", a.CommentID, storage.ErrActiveAnswerExists)
	}
	s.nextAnswerID++
	a.ID = s.nextAnswerID
	a.IsDeleted = false
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.ReplyStatus == "" {
		a.ReplyStatus = domain.ReplyStatusNone
	}
	s.answers[a.ID] = a.Clone()
	return nil
}

// -----------------------------------------------------------------------------
// Comment Repository
// -----------------------------------------------------------------------------

type CommentRepo struct {
	store *MemoryStorage
}

func NewCommentRepo(store *MemoryStorage) *CommentRepo {
	return &CommentRepo{store: store}
}

func (r *CommentRepo) Save(ctx context.Context, c *domain.Comment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if c.Platform == "" {
		c.Platform = domain.PlatformInstagram
	}
	cp := *c
	if existing, ok := r.store.comments[c.ID]; ok {
		// Moderation state belongs to the pipeline, not to re-ingestion.
		cp.IsHidden, cp.HiddenAt, cp.HiddenByAI = existing.IsHidden, existing.HiddenAt, existing.HiddenByAI
		cp.IsDeleted, cp.DeletedAt, cp.DeletedByAI = existing.IsDeleted, existing.DeletedAt, existing.DeletedByAI
		cp.ConversationID = existing.ConversationID
	}
	r.store.comments[c.ID] = &cp
	return nil
}

func (r *CommentRepo) GetByID(ctx context.Context, id string) (*domain.Comment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.comments[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CommentRepo) LatestCreatedAt(ctx context.Context, mediaID string) (*time.Time, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *time.Time
	for _, c := range r.store.comments {
		if c.MediaID == mediaID && (latest == nil || c.CreatedAt.After(*latest)) {
			t := c.CreatedAt
			latest = &t
		}
	}
	return latest, nil
}

func (r *CommentRepo) SetConversationID(ctx context.Context, id, conversationID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if c, ok := r.store.comments[id]; ok {
		c.ConversationID = domain.Ptr(conversationID)
	}
	return nil
}

func (r *CommentRepo) SetHidden(ctx context.Context, id string, hidden, byAI bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.comments[id]
	if !ok {
		return fmt.Errorf("comment %s not found", id)
	}
	c.IsHidden = hidden
	c.HiddenByAI = hidden && byAI
	c.HiddenAt = nil
	if hidden {
		c.HiddenAt = domain.Ptr(time.Now().UTC())
	}
	return nil
}

func (r *CommentRepo) MarkDeletedWithDescendants(ctx context.Context, id string, byAI bool) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.comments[id]; !ok {
		return 0, nil
	}

	// Breadth-first walk over parent_id links.
	ids := []string{id}
	seen := map[string]bool{id: true}
	for i := 0; i < len(ids); i++ {
		for _, c := range r.store.comments {
			if c.ParentID != nil && *c.ParentID == ids[i] && !seen[c.ID] {
				seen[c.ID] = true
				ids = append(ids, c.ID)
			}
		}
	}

	now := time.Now().UTC()
	for _, cid := range ids {
		c := r.store.comments[cid]
		c.IsDeleted = true
		c.DeletedAt = domain.Ptr(now)
		c.DeletedByAI = byAI
		c.IsHidden = false
		c.HiddenAt = nil
	}
	return len(ids), nil
}

// -----------------------------------------------------------------------------
// Answer Repository
// -----------------------------------------------------------------------------

type AnswerRepo struct {
	store *MemoryStorage
}

func NewAnswerRepo(store *MemoryStorage) *AnswerRepo {
	return &AnswerRepo{store: store}
}

func (r *AnswerRepo) Create(ctx context.Context, a *domain.Answer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.insertAnswerLocked(a)
}

func (r *AnswerRepo) GetByID(ctx context.Context, id int64) (*domain.Answer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.answers[id].Clone(), nil
}

func (r *AnswerRepo) GetActiveByCommentID(ctx context.Context, commentID string) (*domain.Answer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.activeAnswerLocked(commentID).Clone(), nil
}

func (r *AnswerRepo) GetActiveByReplyID(ctx context.Context, replyID string) (*domain.Answer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, a := range r.store.answers {
		if !a.IsDeleted && a.ReplyID != nil && *a.ReplyID == replyID {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (r *AnswerRepo) Update(ctx context.Context, a *domain.Answer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	existing, ok := r.store.answers[a.ID]
	if !ok || existing.IsDeleted {
		return fmt.Errorf("answer %d: %w", a.ID, storage.ErrAnswerNotFound)
	}
	updated := a.Clone()
	updated.CommentID = existing.CommentID
	updated.CreatedAt = existing.CreatedAt
	updated.IsDeleted = false
	r.store.answers[a.ID] = updated
	return nil
}

func (r *AnswerRepo) SoftDelete(ctx context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.softDeleteLocked(id)
}

func (r *AnswerRepo) softDeleteLocked(id int64) error {
	existing, ok := r.store.answers[id]
	if !ok || existing.IsDeleted {
		return fmt.Errorf("answer %d: %w", id, storage.ErrAnswerNotFound)
	}
	existing.IsDeleted = true
	existing.ReplyStatus = domain.ReplyStatusDeleted
	existing.ReplyError = nil
	return nil
}

func (r *AnswerRepo) Supersede(ctx context.Context, oldID int64, replacement *domain.Answer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	old, ok := r.store.answers[oldID]
	if !ok || old.IsDeleted {
		return fmt.Errorf("answer %d: %w", oldID, storage.ErrAnswerNotFound)
	}
	// Both writes or neither.
	snapshot := old.Clone()
	if err := r.softDeleteLocked(oldID); err != nil {
		return err
	}
	if err := r.store.insertAnswerLocked(replacement); err != nil {
		r.store.answers[oldID] = snapshot
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Classification Repository
// -----------------------------------------------------------------------------

type ClassificationRepo struct {
	store *MemoryStorage
}

func NewClassificationRepo(store *MemoryStorage) *ClassificationRepo {
	return &ClassificationRepo{store: store}
}

func cloneClassification(c *domain.Classification) *domain.Classification {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func (r *ClassificationRepo) GetByCommentID(ctx context.Context, commentID string) (*domain.Classification, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return cloneClassification(r.store.classifications[commentID]), nil
}

func (r *ClassificationRepo) Save(ctx context.Context, c *domain.Classification) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if existing, ok := r.store.classifications[c.CommentID]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else {
		r.store.nextClassID++
		c.ID = r.store.nextClassID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
	}
	r.store.classifications[c.CommentID] = cloneClassification(c)
	return nil
}

func (r *ClassificationRepo) ListByStatus(
	ctx context.Context,
	status domain.ProcessingStatus,
	limit int,
) ([]*domain.Classification, error) {
	return r.list(status, func(*domain.Classification) bool { return true }, limit), nil
}

func (r *ClassificationRepo) ListStale(
	ctx context.Context,
	status domain.ProcessingStatus,
	before time.Time,
	limit int,
) ([]*domain.Classification, error) {
	return r.list(status, func(c *domain.Classification) bool {
		since := c.CreatedAt
		if c.ProcessingStartedAt != nil {
			since = *c.ProcessingStartedAt
		}
		return since.Before(before)
	}, limit), nil
}

func (r *ClassificationRepo) list(
	status domain.ProcessingStatus,
	keep func(*domain.Classification) bool,
	limit int,
) []*domain.Classification {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Classification
	for _, c := range r.store.classifications {
		if c.ProcessingStatus == status && keep(c) {
			out = append(out, cloneClassification(c))
		}
	}
	slices.SortFunc(out, func(a, b *domain.Classification) int { return int(a.ID - b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *ClassificationRepo) CountByStatus(ctx context.Context) (map[domain.ProcessingStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.ProcessingStatus]int)
	for _, c := range r.store.classifications {
		counts[c.ProcessingStatus]++
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Token Usage Repository
// -----------------------------------------------------------------------------

type TokenUsageRepo struct {
	store *MemoryStorage
}

func NewTokenUsageRepo(store *MemoryStorage) *TokenUsageRepo {
	return &TokenUsageRepo{store: store}
}

func (r *TokenUsageRepo) Append(ctx context.Context, u *domain.TokenUsage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextUsageID++
	u.ID = r.store.nextUsageID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	cp.Details = maps.Clone(u.Details)
	r.store.usage = append(r.store.usage, &cp)
	return nil
}

func (r *TokenUsageRepo) Totals(ctx context.Context, from, to time.Time) ([]domain.TokenTotals, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.tokenTotalsLocked(from, to), nil
}

func (s *MemoryStorage) tokenTotalsLocked(from, to time.Time) []domain.TokenTotals {
	byModel := make(map[string]*domain.TokenTotals)
	for _, u := range s.usage {
		if !inRange(u.CreatedAt, from, to) {
			continue
		}
		t, ok := byModel[u.Model]
		if !ok {
			t = &domain.TokenTotals{Model: u.Model}
			byModel[u.Model] = t
		}
		t.Calls++
		t.TokensIn += u.TokensIn
		t.TokensOut += u.TokensOut
	}
	out := make([]domain.TokenTotals, 0, len(byModel))
	for _, model := range slices.Sorted(maps.Keys(byModel)) {
		out = append(out, *byModel[model])
	}
	return out
}

// -----------------------------------------------------------------------------
// Stats Repository
// -----------------------------------------------------------------------------

type StatsRepo struct {
	store *MemoryStorage
}

func NewStatsRepo(store *MemoryStorage) *StatsRepo {
	return &StatsRepo{store: store}
}

func (r *StatsRepo) Collect(ctx context.Context, from, to time.Time) (*domain.ModerationStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := &domain.ModerationStats{
		PeriodStart:     from,
		PeriodEnd:       to,
		Classifications: make(map[string]int),
	}

	for _, c := range r.store.comments {
		if inRange(c.CreatedAt, from, to) {
			stats.CommentsReceived++
		}
		if c.HiddenAt != nil && inRange(*c.HiddenAt, from, to) {
			stats.CommentsHidden++
		}
		if c.DeletedAt != nil && inRange(*c.DeletedAt, from, to) {
			stats.CommentsDeleted++
		}
	}

	for _, c := range r.store.classifications {
		if c.ProcessingCompletedAt == nil || !inRange(*c.ProcessingCompletedAt, from, to) {
			continue
		}
		switch c.ProcessingStatus {
		case domain.ProcessingCompleted:
			stats.Classifications[c.TypeName()]++
		case domain.ProcessingFailed:
			stats.ClassificationFail++
		}
	}

	for _, a := range r.store.answers {
		if a.IsAIGenerated && a.ProcessingCompletedAt != nil && inRange(*a.ProcessingCompletedAt, from, to) {
			stats.AnswersGenerated++
		}
		if !a.IsAIGenerated && inRange(a.CreatedAt, from, to) {
			stats.ManualAnswers++
		}
		if a.ReplySentAt != nil && inRange(*a.ReplySentAt, from, to) {
			stats.RepliesSent++
		}
	}

	stats.Tokens = r.store.tokenTotalsLocked(from, to)
	return stats, nil
}

func (r *StatsRepo) SaveReport(ctx context.Context, rep *domain.StatsReport) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rep.ID = int64(len(r.store.reports) + 1)
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	cp := *rep
	r.store.reports = append(r.store.reports, &cp)
	return nil
}

func (r *StatsRepo) LatestReport(ctx context.Context) (*domain.StatsReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if len(r.store.reports) == 0 {
		return nil, nil
	}
	cp := *r.store.reports[len(r.store.reports)-1]
	return &cp, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
