// Package poll pulls new YouTube comments into the moderation pipeline.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/infra/platform"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
)

// DefaultMaxVideos is how many recent videos one poll visits.
const DefaultMaxVideos = 10

// Source lists the channel's videos and their comments.
type Source interface {
	ChannelID() string
	RecentVideos(ctx context.Context, max int64) ([]string, error)
	CommentThreads(ctx context.Context, videoID, pageToken string) (*platform.CommentPage, error)
}

// Ingester stores a comment and queues its classification.
type Ingester interface {
	Ingest(ctx context.Context, c *domain.Comment) (domain.Result, error)
}

// UseCase polls YouTube comments.
type UseCase struct {
	source    Source
	comments  storage.CommentRepository
	ingest    Ingester
	maxVideos int64
	log       *slog.Logger
}

// New creates the use case. A nil source turns every poll into a skip.
func New(source Source, comments storage.CommentRepository, ingest Ingester, maxVideos int64) *UseCase {
	if maxVideos <= 0 {
		maxVideos = DefaultMaxVideos
	}
	return &UseCase{
		source:    source,
		comments:  comments,
		ingest:    ingest,
		maxVideos: maxVideos,
		log:       slog.Default().With("component", "youtube_poll"),
	}
}

// Poll ingests comments newer than the latest one stored per video. A failing
// video is logged and skipped; a spent quota ends the poll without a retry.
func (uc *UseCase) Poll(ctx context.Context, attempt int) domain.Result {
	if uc.source == nil {
		uc.log.Warn("YouTube credentials missing, skipping poll")
		return domain.Skipped("youtube_not_configured")
	}
	channelID := uc.source.ChannelID()
	if channelID == "" {
		uc.log.Warn("No YouTube channel id, skipping poll")
		return domain.Skipped("no_channel_id")
	}
	log := uc.log.With("channel_id", channelID, "attempt", attempt)
	start := time.Now()

	videos, err := uc.source.RecentVideos(ctx, uc.maxVideos)
	if err != nil {
		log.Error("Failed to list videos", "error", err)
		return resultFor(err)
	}

	added, apiErrors := 0, 0
	for _, videoID := range videos {
		n, err := uc.pollVideo(ctx, channelID, videoID)
		added += n
		if errors.Is(err, platform.ErrQuotaExceeded) {
			log.Error("YouTube quota exceeded, stopping poll", "video_id", videoID, "new_comments", added)
			res := domain.Failure("quota_exceeded")
			res.NewComments = added
			return res
		}
		if err != nil {
			apiErrors++
			log.Error("Failed to poll video", "video_id", videoID, "error", err)
		}
	}

	log.Info("YouTube poll finished",
		"videos", len(videos),
		"new_comments", added,
		"api_errors", apiErrors,
		"duration", time.Since(start),
	)
	if apiErrors > 0 && apiErrors == len(videos) {
		res := domain.Retry(fmt.Sprintf("all %d videos failed", apiErrors), 0)
		res.NewComments = added
		return res
	}
	res := domain.Success("")
	res.NewComments = added
	return res
}

// pollVideo walks threads newest first and stops at the first top-level
// comment that is not newer than what is stored.
func (uc *UseCase) pollVideo(ctx context.Context, channelID, videoID string) (int, error) {
	latest, err := uc.comments.LatestCreatedAt(ctx, videoID)
	if err != nil {
		return 0, domain.MarkTransient(fmt.Errorf("failed to load latest comment time: %w", err))
	}

	added := 0
	token := ""
	for {
		page, err := uc.source.CommentThreads(ctx, videoID, token)
		if err != nil {
			return added, err
		}
		for _, c := range page.Comments {
			if latest != nil && !c.CreatedAt.After(*latest) {
				if c.ParentID == nil {
					return added, nil
				}
				continue
			}
			ok, err := uc.store(ctx, channelID, c)
			if err != nil {
				return added, err
			}
			if ok {
				added++
			}
		}
		if page.NextPageToken == "" {
			return added, nil
		}
		token = page.NextPageToken
	}
}

func (uc *UseCase) store(ctx context.Context, channelID string, c *domain.Comment) (bool, error) {
	// Our own replies come back in the thread listing.
	if c.UserID == channelID {
		return false, nil
	}
	existing, err := uc.comments.GetByID(ctx, c.ID)
	if err != nil {
		return false, domain.MarkTransient(fmt.Errorf("failed to load comment: %w", err))
	}
	if existing != nil {
		return false, nil
	}
	res, err := uc.ingest.Ingest(ctx, c)
	if err != nil {
		return false, domain.MarkTransient(err)
	}
	return res.Status == domain.StatusSuccess, nil
}

func resultFor(err error) domain.Result {
	switch {
	case errors.Is(err, platform.ErrQuotaExceeded):
		return domain.Failure("quota_exceeded")
	case domain.IsTransient(err):
		return domain.Retry(err.Error(), 0)
	default:
		return domain.Failure(err.Error())
	}
}
