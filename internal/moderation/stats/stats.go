// Package stats aggregates moderation activity into periodic reports.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
)

// DefaultPeriod is one day.
const DefaultPeriod = 24 * time.Hour

// Reporter builds and stores stats reports.
type Reporter struct {
	repo   storage.StatsRepository
	period time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewReporter creates a reporter over period-long windows.
func NewReporter(repo storage.StatsRepository, period time.Duration) *Reporter {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Reporter{
		repo:   repo,
		period: period,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default().With("component", "stats"),
	}
}

// Window returns the last complete period before now.
func (r *Reporter) Window() (from, to time.Time) {
	to = r.now().Truncate(r.period)
	return to.Add(-r.period), to
}

// Report aggregates the last complete period and persists it.
func (r *Reporter) Report(ctx context.Context) (*domain.StatsReport, error) {
	from, to := r.Window()

	s, err := r.repo.Collect(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}

	report := &domain.StatsReport{
		PeriodStart: from,
		PeriodEnd:   to,
		Payload:     *s,
	}
	if err := r.repo.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save stats report: %w", err)
	}

	var tokensIn, tokensOut int
	for _, t := range s.Tokens {
		tokensIn += t.TokensIn
		tokensOut += t.TokensOut
	}
	r.log.Info("Moderation stats",
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
		"comments", s.CommentsReceived,
		"classified", sum(s.Classifications),
		"classification_failed", s.ClassificationFail,
		"answers", s.AnswersGenerated,
		"replies", s.RepliesSent,
		"manual_answers", s.ManualAnswers,
		"hidden", s.CommentsHidden,
		"deleted", s.CommentsDeleted,
		"tokens_in", tokensIn,
		"tokens_out", tokensOut,
	)
	return report, nil
}

// Latest returns the newest stored report, nil if none.
func (r *Reporter) Latest(ctx context.Context) (*domain.StatsReport, error) {
	report, err := r.repo.LatestReport(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest report: %w", err)
	}
	return report, nil
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
