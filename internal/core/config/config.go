package config

import (
	"time"

	"github.com/lun1tunes/instachatico/internal/core/retry"
	"github.com/lun1tunes/instachatico/internal/core/worker"
	"github.com/lun1tunes/instachatico/internal/infra/llm"
	"github.com/lun1tunes/instachatico/internal/infra/platform"
	redisclient "github.com/lun1tunes/instachatico/internal/infra/redis"
	"github.com/lun1tunes/instachatico/internal/infra/storage/postgres"
	"github.com/lun1tunes/instachatico/internal/moderation/classify"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig           `yaml:"server"`
	Logging    LoggingConfig          `yaml:"logging"`
	Database   postgres.Config        `yaml:"database"`
	Redis      redisclient.Config     `yaml:"redis"`
	Tasks      tasks.ServerConfig     `yaml:"tasks"`
	Retry      RetryConfig            `yaml:"retry"`
	RateLimits RateLimitsConfig       `yaml:"rate_limits"`
	Instagram  platform.Config        `yaml:"instagram"`
	YouTube    platform.YouTubeConfig `yaml:"youtube"`
	LLM        llm.Config             `yaml:"llm"`
	Moderation classify.Routing       `yaml:"moderation"`
	Beat       BeatConfig             `yaml:"beat"`
	Locks      LocksConfig            `yaml:"locks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig holds the backoff schedule shared by all tasks.
type RetryConfig struct {
	Schedule retry.Schedule `yaml:"schedule"`
}

// RateLimitsConfig holds the shared quotas. An LLM limit of 0 disables it.
type RateLimitsConfig struct {
	Instagram redisclient.LimitConfig `yaml:"instagram"`
	YouTube   redisclient.LimitConfig `yaml:"youtube"`
	LLM       redisclient.LimitConfig `yaml:"llm"`
}

// BeatConfig holds periodic task settings.
type BeatConfig struct {
	tasks.BeatConfig     `yaml:",inline"`
	worker.SweeperConfig `yaml:",inline"`
	StatsPeriod          time.Duration `yaml:"stats_period"`
}

// LocksConfig holds distributed lock settings.
type LocksConfig struct {
	ReplyTTL time.Duration `yaml:"reply_ttl"`
}
