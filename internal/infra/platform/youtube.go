package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/moderation/metrics"
)

// YouTubeScope allows reading, posting and moderating comments.
const YouTubeScope = "https://www.googleapis.com/auth/youtube.force-ssl"

var (
	// ErrYouTubeAuthMissing is returned when no OAuth credentials are configured.
	ErrYouTubeAuthMissing = errors.New("youtube credentials are not configured")

	// ErrQuotaExceeded means the daily Data API quota is spent. Retrying before
	// the quota resets only burns more of it.
	ErrQuotaExceeded = errors.New("youtube quota exceeded")
)

// YouTubeConfig holds YouTube Data API settings. Polling is off without a ChannelID.
type YouTubeConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RefreshToken string        `yaml:"refresh_token"`
	ChannelID    string        `yaml:"channel_id"`
	BaseURL      string        `yaml:"base_url"`
	MaxVideos    int64         `yaml:"poll_max_videos"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Enabled reports whether credentials are present.
func (c YouTubeConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// CommentPage is one page of comment threads under a video.
type CommentPage struct {
	Comments      []*domain.Comment
	NextPageToken string
}

// YouTubeClient implements Client over the YouTube Data API and lists the
// channel's comments for polling.
type YouTubeClient struct {
	svc       *youtube.Service
	channelID string
	log       *slog.Logger
}

// NewYouTubeClient authenticates with the refresh token and builds a Data API service.
func NewYouTubeClient(ctx context.Context, cfg YouTubeConfig) (*YouTubeClient, error) {
	if !cfg.Enabled() {
		return nil, ErrYouTubeAuthMissing
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{YouTubeScope},
	}
	// Token refreshes use this client too.
	ctx = context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return NewYouTubeClientWithService(svc, cfg.ChannelID), nil
}

// NewYouTubeClientWithService wraps an existing service.
func NewYouTubeClientWithService(svc *youtube.Service, channelID string) *YouTubeClient {
	return &YouTubeClient{
		svc:       svc,
		channelID: channelID,
		log:       slog.Default().With("component", "youtube"),
	}
}

// ChannelID is the channel whose videos are polled.
func (c *YouTubeClient) ChannelID() string {
	return c.channelID
}

// SendReply posts a reply under a top-level comment.
func (c *YouTubeClient) SendReply(ctx context.Context, commentID, message string) Result {
	start := time.Now()
	defer observe("youtube_send_reply", start)

	out, err := c.svc.Comments.Insert([]string{"snippet"}, &youtube.Comment{
		Snippet: &youtube.CommentSnippet{ParentId: commentID, TextOriginal: message},
	}).Context(ctx).Do()
	if err != nil {
		return c.fail("youtube_send_reply", err)
	}
	metrics.PlatformCalls.WithLabelValues("youtube_send_reply", "success").Inc()
	return Result{Success: true, StatusCode: out.HTTPStatusCode, ReplyID: out.Id}
}

// DeleteReply removes a reply we posted earlier.
func (c *YouTubeClient) DeleteReply(ctx context.Context, replyID string) Result {
	return c.delete(ctx, "youtube_delete_reply", replyID)
}

// DeleteItem removes a comment.
func (c *YouTubeClient) DeleteItem(ctx context.Context, itemID string) Result {
	return c.delete(ctx, "youtube_delete_item", itemID)
}

func (c *YouTubeClient) delete(ctx context.Context, op, id string) Result {
	start := time.Now()
	defer observe(op, start)

	if err := c.svc.Comments.Delete(id).Context(ctx).Do(); err != nil {
		return c.fail(op, err)
	}
	metrics.PlatformCalls.WithLabelValues(op, "success").Inc()
	return Result{Success: true, StatusCode: http.StatusNoContent}
}

// HideComment holds a comment for review, or publishes it again.
func (c *YouTubeClient) HideComment(ctx context.Context, commentID string, hide bool) Result {
	const op = "youtube_hide_comment"
	start := time.Now()
	defer observe(op, start)

	status := "published"
	if hide {
		status = "heldForReview"
	}
	if err := c.svc.Comments.SetModerationStatus([]string{commentID}, status).Context(ctx).Do(); err != nil {
		return c.fail(op, err)
	}
	metrics.PlatformCalls.WithLabelValues(op, "success").Inc()
	return Result{Success: true, StatusCode: http.StatusNoContent}
}

// RecentVideos lists the channel's newest video ids.
func (c *YouTubeClient) RecentVideos(ctx context.Context, max int64) ([]string, error) {
	const op = "youtube_list_videos"
	start := time.Now()
	defer observe(op, start)

	resp, err := c.svc.Search.List([]string{"id"}).
		ChannelId(c.channelID).
		Type("video").
		Order("date").
		MaxResults(max).
		Context(ctx).
		Do()
	if err != nil {
		c.fail(op, err)
		return nil, classifyError(err)
	}
	metrics.PlatformCalls.WithLabelValues(op, "success").Inc()

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	return ids, nil
}

// CommentThreads returns one page of threads under videoID, newest first.
// Replies come back with their parent set.
func (c *YouTubeClient) CommentThreads(ctx context.Context, videoID, pageToken string) (*CommentPage, error) {
	const op = "youtube_list_comments"
	start := time.Now()
	defer observe(op, start)

	call := c.svc.CommentThreads.List([]string{"snippet", "replies"}).
		VideoId(videoID).
		TextFormat("plainText").
		Order("time").
		MaxResults(100)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		c.fail(op, err)
		return nil, classifyError(err)
	}
	metrics.PlatformCalls.WithLabelValues(op, "success").Inc()

	page := &CommentPage{NextPageToken: resp.NextPageToken}
	for _, thread := range resp.Items {
		if thread.Snippet == nil || thread.Snippet.TopLevelComment == nil {
			continue
		}
		top := toComment(thread.Snippet.TopLevelComment, videoID, "")
		page.Comments = append(page.Comments, top)
		if thread.Replies == nil {
			continue
		}
		for _, r := range thread.Replies.Comments {
			page.Comments = append(page.Comments, toComment(r, videoID, top.ID))
		}
	}
	return page, nil
}

func toComment(yc *youtube.Comment, videoID, parentID string) *domain.Comment {
	c := &domain.Comment{
		ID:       yc.Id,
		Platform: domain.PlatformYouTube,
		MediaID:  videoID,
		UserID:   "unknown",
		Username: "unknown",
	}
	if parentID != "" {
		c.ParentID = domain.Ptr(parentID)
	}
	s := yc.Snippet
	if s == nil {
		return c
	}
	if s.AuthorDisplayName != "" {
		c.Username = s.AuthorDisplayName
		c.UserID = s.AuthorDisplayName
	}
	if s.AuthorChannelId != nil && s.AuthorChannelId.Value != "" {
		c.UserID = s.AuthorChannelId.Value
	}
	c.Text = s.TextOriginal
	if c.Text == "" {
		c.Text = s.TextDisplay
	}
	if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
		c.CreatedAt = t.UTC()
	}
	return c
}

// classifyError wraps quota failures in ErrQuotaExceeded and marks the
// retryable ones transient.
func classifyError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.MarkTransient(err)
	}
	if hasReason(gerr, "quotaExceeded", "dailyLimitExceeded") {
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, gerr.Message)
	}
	if isTransientAPIError(gerr) {
		return domain.MarkTransient(err)
	}
	return err
}

func isTransientAPIError(gerr *googleapi.Error) bool {
	return gerr.Code == http.StatusTooManyRequests ||
		gerr.Code >= 500 ||
		hasReason(gerr, "rateLimitExceeded", "userRateLimitExceeded", "backendError")
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

func (c *YouTubeClient) fail(op string, err error) Result {
	res := Result{Error: err.Error(), Transient: !errors.Is(err, context.Canceled)}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		res.StatusCode = gerr.Code
		res.Error = strings.TrimSpace(gerr.Message)
		if res.Error == "" {
			res.Error = fmt.Sprintf("http %d", gerr.Code)
		}
		res.Transient = isTransientAPIError(gerr) && !hasReason(gerr, "quotaExceeded", "dailyLimitExceeded")
		if ra := gerr.Header.Get("Retry-After"); ra != "" {
			if d, err := time.ParseDuration(ra + "s"); err == nil {
				res.RetryAfter = d
			}
		}
	}

	outcome := "error"
	if res.Transient {
		outcome = "transient"
	}
	metrics.PlatformCalls.WithLabelValues(op, outcome).Inc()
	c.log.Warn("Platform call failed",
		"op", op,
		"status_code", res.StatusCode,
		"transient", res.Transient,
		"error", res.Error,
	)
	return res
}

func observe(op string, start time.Time) {
	metrics.PlatformLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
