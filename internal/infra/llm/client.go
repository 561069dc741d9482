// Package llm classifies comments and drafts answers with Claude.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/moderation/metrics"
)

const (
	DefaultModel     = "claude-haiku-4-5"
	DefaultMaxTokens = 1024
)

// errAPIKeyRequired is returned when no API key is configured.
var errAPIKeyRequired = errors.New("API key required")

// Config holds LLM settings.
type Config struct {
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int64         `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	BaseURL   string        `yaml:"base_url"`
}

// Client wraps the Anthropic Messages API.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration

	classifyTmpl *template.Template
	answerTmpl   *template.Template
	log          *slog.Logger
}

type completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// New creates a client. Retries are left to the task retry policy.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: set llm.api_key or ANTHROPIC_API_KEY", errAPIKeyRequired)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	classifyTmpl, err := template.New("classify").Parse(classifyPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse classify template: %w", err)
	}
	answerTmpl, err := template.New("answer").Parse(answerPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse answer template: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		client:       anthropic.NewClient(opts...),
		model:        anthropic.Model(model),
		maxTokens:    maxTokens,
		timeout:      timeout,
		classifyTmpl: classifyTmpl,
		answerTmpl:   answerTmpl,
		log:          slog.Default().With("component", "llm"),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return string(c.model)
}

type classifyData struct {
	Types    []string
	Username string
	Text     string
	Parent   string
}

type classifyResponse struct {
	Type       string `json:"type"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Classify assigns one of domain.KnownTypes to a comment.
func (c *Client) Classify(
	ctx context.Context,
	comment *domain.Comment,
	parent *domain.Comment,
) (*domain.ClassificationOutcome, error) {
	data := classifyData{
		Types:    domain.KnownTypes,
		Username: comment.Username,
		Text:     comment.Text,
	}
	if parent != nil {
		data.Parent = parent.Text
	}
	prompt, err := render(c.classifyTmpl, data)
	if err != nil {
		return nil, err
	}

	out, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var resp classifyResponse
	if err := decodeJSON(out.Text, &resp); err != nil {
		return nil, err
	}
	kind := domain.NormalizeType(resp.Type)
	if kind == "" {
		return nil, fmt.Errorf("classification response has no type: %q", out.Text)
	}

	return &domain.ClassificationOutcome{
		Type:         kind,
		Confidence:   domain.PercentToConfidence(clamp(resp.Confidence, 0, 100)),
		Reasoning:    resp.Reasoning,
		Model:        c.Model(),
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
	}, nil
}

type answerData struct {
	Username string
	Text     string
	Type     string
}

type answerResponse struct {
	Answer       string  `json:"answer"`
	Confidence   float64 `json:"confidence"`
	QualityScore int     `json:"quality_score"`
}

// Answer drafts a reply to a classified comment.
func (c *Client) Answer(
	ctx context.Context,
	comment *domain.Comment,
	classification string,
) (*domain.AnswerOutcome, error) {
	prompt, err := render(c.answerTmpl, answerData{
		Username: comment.Username,
		Text:     comment.Text,
		Type:     classification,
	})
	if err != nil {
		return nil, err
	}

	out, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var resp answerResponse
	if err := decodeJSON(out.Text, &resp); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Answer)
	if text == "" {
		return nil, fmt.Errorf("answer response is empty: %q", out.Text)
	}

	confidence := resp.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = 0
	}
	return &domain.AnswerOutcome{
		Text:         text,
		Confidence:   confidence,
		QualityScore: clamp(resp.QualityScore, 0, domain.MaxQualityScore),
		Model:        c.Model(),
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
	}, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (*completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		c.log.Warn("LLM call failed", "model", c.model, "error", err)
		if isRetryable(err) {
			return nil, domain.MarkTransient(fmt.Errorf("llm call failed: %w", err))
		}
		return nil, fmt.Errorf("llm call failed: %w", err)
	}

	metrics.LLMTokens.WithLabelValues(c.Model(), "input").Add(float64(message.Usage.InputTokens))
	metrics.LLMTokens.WithLabelValues(c.Model(), "output").Add(float64(message.Usage.OutputTokens))

	c.log.Debug("LLM call completed",
		"model", c.model,
		"input_tokens", message.Usage.InputTokens,
		"output_tokens", message.Usage.OutputTokens,
	)

	if len(message.Content) == 0 {
		return nil, fmt.Errorf("unexpected response format: no content blocks")
	}
	content := message.Content[0]
	if content.Type != "text" {
		return nil, fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
	}
	return &completion{
		Text:         content.Text,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

// isRetryable treats timeouts, 429 and 5xx as transient.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func render(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return sb.String(), nil
}

// decodeJSON reads the first JSON object in text. Models sometimes wrap it in prose or fences.
func decodeJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in response: %q", text)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
