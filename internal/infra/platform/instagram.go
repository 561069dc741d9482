package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lun1tunes/instachatico/internal/moderation/metrics"
)

const DefaultBaseURL = "https://graph.instagram.com/v23.0"

// Graph API error codes that are documented as temporary.
var transientCodes = []int{1, 2, 4, 17, 341}

// Config holds Instagram Graph API settings.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// InstagramClient implements Client over the Instagram Graph API.
type InstagramClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	log         *slog.Logger
}

// NewInstagramClient creates a Graph API client.
func NewInstagramClient(cfg Config) *InstagramClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InstagramClient{
		baseURL:     baseURL,
		accessToken: cfg.AccessToken,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default().With("component", "instagram"),
	}
}

type graphError struct {
	Error *struct {
		Message     string `json:"message"`
		Type        string `json:"type"`
		Code        int    `json:"code"`
		IsTransient bool   `json:"is_transient"`
	} `json:"error"`
}

// SendReply posts a reply under a comment.
func (c *InstagramClient) SendReply(ctx context.Context, commentID, message string) Result {
	params := url.Values{"message": {message}}
	res, body := c.do(ctx, "send_reply", http.MethodPost, url.PathEscape(commentID)+"/replies", params)
	if !res.Success {
		return res
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		// The reply exists on the platform but we cannot reference it.
		c.log.Warn("Reply sent without an id in response", "comment_id", commentID, "body", string(body))
	}
	res.ReplyID = out.ID
	return res
}

// DeleteReply removes a reply we posted earlier.
func (c *InstagramClient) DeleteReply(ctx context.Context, replyID string) Result {
	res, _ := c.do(ctx, "delete_reply", http.MethodDelete, url.PathEscape(replyID), nil)
	return res
}

// DeleteItem removes a comment.
func (c *InstagramClient) DeleteItem(ctx context.Context, itemID string) Result {
	res, _ := c.do(ctx, "delete_item", http.MethodDelete, url.PathEscape(itemID), nil)
	return res
}

// HideComment hides or unhides a comment.
func (c *InstagramClient) HideComment(ctx context.Context, commentID string, hide bool) Result {
	params := url.Values{"hide": {strconv.FormatBool(hide)}}
	res, _ := c.do(ctx, "hide_comment", http.MethodPost, url.PathEscape(commentID), params)
	return res
}

// do performs one Graph call. path must already be escaped.
func (c *InstagramClient) do(
	ctx context.Context,
	op, method, path string,
	params url.Values,
) (Result, []byte) {
	start := time.Now()
	defer func() {
		metrics.PlatformLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.accessToken)
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return c.fail(op, Result{Error: fmt.Sprintf("create request: %v", err)}), nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(op, Result{
			Error:     fmt.Sprintf("%s request: %v", op, err),
			Transient: isNetworkTransient(err),
		}), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(op, Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", err),
			Transient:  true,
		}), nil
	}

	if resp.StatusCode == http.StatusOK {
		metrics.PlatformCalls.WithLabelValues(op, "success").Inc()
		return Result{Success: true, StatusCode: resp.StatusCode}, body
	}

	res := Result{
		StatusCode: resp.StatusCode,
		Error:      fmt.Sprintf("http %d: %s", resp.StatusCode, string(body)),
		Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			res.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	var ge graphError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error != nil {
		res.Error = ge.Error.Message
		if ge.Error.IsTransient || slices.Contains(transientCodes, ge.Error.Code) {
			res.Transient = true
		}
	}
	return c.fail(op, res), body
}

func (c *InstagramClient) fail(op string, res Result) Result {
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

func isNetworkTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Timeouts and connection failures are worth another attempt.
	return true
}
