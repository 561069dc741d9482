package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/lun1tunes/instachatico/internal/core/answer"
	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/core/worker"
	"github.com/lun1tunes/instachatico/internal/infra/llm"
	"github.com/lun1tunes/instachatico/internal/infra/platform"
	"github.com/lun1tunes/instachatico/internal/moderation/classify"
	"github.com/lun1tunes/instachatico/internal/moderation/poll"
	"github.com/lun1tunes/instachatico/internal/moderation/stats"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

// Default rate limit keys.
const (
	InstagramLimitKey = "instagram:send_reply"
	YouTubeLimitKey   = "youtube:send_reply"
	LLMLimitKey       = "llm:calls"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Routing defaults survive a partial moderation section.
	cfg := AppConfig{Moderation: classify.DefaultRouting()}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Tasks.Concurrency == 0 {
		cfg.Tasks.Concurrency = 10
	}
	if len(cfg.Tasks.Queues) == 0 {
		cfg.Tasks.Queues = tasks.DefaultQueues()
	}
	if cfg.Tasks.Timeout == 0 {
		cfg.Tasks.Timeout = tasks.DefaultTimeout
	}
	if cfg.Tasks.ShutdownTimeout == 0 {
		cfg.Tasks.ShutdownTimeout = 30 * time.Second
	}

	if len(cfg.Retry.Schedule) == 0 {
		cfg.Retry.Schedule = append(retry.Schedule(nil), retry.DefaultSchedule...)
	}

	ig := &cfg.RateLimits.Instagram
	if ig.Key == "" {
		ig.Key = InstagramLimitKey
	}
	if ig.Limit == 0 {
		ig.Limit = 750
	}
	if ig.Period == 0 {
		ig.Period = time.Hour
	}
	yt := &cfg.RateLimits.YouTube
	if yt.Key == "" {
		yt.Key = YouTubeLimitKey
	}
	if yt.Limit == 0 {
		yt.Limit = 500
	}
	if yt.Period == 0 {
		yt.Period = time.Minute
	}
	if cfg.RateLimits.LLM.Key == "" {
		cfg.RateLimits.LLM.Key = LLMLimitKey
	}
	if cfg.RateLimits.LLM.Limit > 0 && cfg.RateLimits.LLM.Period == 0 {
		cfg.RateLimits.LLM.Period = time.Minute
	}

	if cfg.Instagram.BaseURL == "" {
		cfg.Instagram.BaseURL = platform.DefaultBaseURL
	}
	if cfg.YouTube.MaxVideos == 0 {
		cfg.YouTube.MaxVideos = poll.DefaultMaxVideos
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llm.DefaultModel
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = llm.DefaultMaxTokens
	}

	if cfg.Beat.SweepSpec == "" {
		cfg.Beat.SweepSpec = tasks.DefaultSweepSpec
	}
	if cfg.Beat.StatsSpec == "" {
		cfg.Beat.StatsSpec = tasks.DefaultStatsSpec
	}
	// Polling starts once a channel is configured.
	if cfg.Beat.YouTubePollSpec == "" && cfg.YouTube.Enabled() && cfg.YouTube.ChannelID != "" {
		cfg.Beat.YouTubePollSpec = tasks.DefaultYouTubePollSpec
	}
	if cfg.Beat.StuckAfter == 0 {
		cfg.Beat.StuckAfter = worker.DefaultStuckAfter
	}
	if cfg.Beat.BatchSize == 0 {
		cfg.Beat.BatchSize = worker.DefaultBatchSize
	}
	if cfg.Beat.StatsPeriod == 0 {
		cfg.Beat.StatsPeriod = stats.DefaultPeriod
	}

	if cfg.Locks.ReplyTTL == 0 {
		cfg.Locks.ReplyTTL = answer.DefaultLockTTL
	}
}

// Validate checks values that would otherwise fail at runtime.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if len(c.Retry.Schedule) == 0 {
		errs = append(errs, errors.New("retry.schedule must not be empty"))
	}
	for i, d := range c.Retry.Schedule {
		if d < 0 {
			errs = append(errs, fmt.Errorf("retry.schedule[%d] is negative", i))
		}
	}
	if err := c.RateLimits.Instagram.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rate_limits.instagram: %w", err))
	}
	if err := c.RateLimits.YouTube.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rate_limits.youtube: %w", err))
	}
	if c.YouTube.MaxVideos < 0 {
		errs = append(errs, errors.New("youtube.poll_max_videos is negative"))
	}
	if c.RateLimits.LLM.Limit != 0 {
		if err := c.RateLimits.LLM.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rate_limits.llm: %w", err))
		}
	}
	if err := c.Beat.BeatConfig.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("beat: %w", err))
	}
	if c.Tasks.Timeout < 0 {
		errs = append(errs, errors.New("tasks.timeout is negative"))
	}
	for name, weight := range c.Tasks.Queues {
		if weight < 1 {
			errs = append(errs, fmt.Errorf("tasks.queues.%s weight must be >= 1", name))
		}
	}

	return errors.Join(errs...)
}
