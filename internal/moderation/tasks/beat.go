package tasks

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
)

// BeatConfig holds the cron specs of the periodic tasks. An empty
// YouTubePollSpec disables YouTube polling.
type BeatConfig struct {
	SweepSpec       string `yaml:"sweep"`
	StatsSpec       string `yaml:"stats_report"`
	YouTubePollSpec string `yaml:"youtube_poll"`
	Location        string `yaml:"location"`
}

const (
	DefaultSweepSpec       = "*/15 * * * *"
	DefaultStatsSpec       = "0 6 * * *"
	DefaultYouTubePollSpec = "*/5 * * * *"
)

// Entries maps periodic task names to their cron specs.
func (c BeatConfig) Entries() map[string]string {
	sweep, stats := c.SweepSpec, c.StatsSpec
	if sweep == "" {
		sweep = DefaultSweepSpec
	}
	if stats == "" {
		stats = DefaultStatsSpec
	}
	entries := map[string]string{
		TaskRetryFailedClassifications: sweep,
		TaskStatsReport:                stats,
	}
	if c.YouTubePollSpec != "" {
		entries[TaskPollYouTube] = c.YouTubePollSpec
	}
	return entries
}

// Validate parses every spec with the standard five-field parser.
func (c BeatConfig) Validate() error {
	for task, spec := range c.Entries() {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid cron spec %q for %s: %w", spec, task, err)
		}
	}
	if c.Location != "" {
		if _, err := time.LoadLocation(c.Location); err != nil {
			return fmt.Errorf("invalid beat location %q: %w", c.Location, err)
		}
	}
	return nil
}

// NewScheduler registers the periodic tasks on an asynq scheduler.
func NewScheduler(opt asynq.RedisConnOpt, cfg BeatConfig) (*asynq.Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc := time.UTC
	if cfg.Location != "" {
		loc, _ = time.LoadLocation(cfg.Location)
	}

	log := slog.Default().With("component", "beat")
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: loc,
		Logger:   NewLogger(log),
	})

	for task, spec := range cfg.Entries() {
		id, err := scheduler.Register(spec, asynq.NewTask(task, nil),
			asynq.Queue(QueueFor(task)),
			asynq.MaxRetry(0),
			asynq.Unique(time.Minute),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", task, err)
		}
		log.Info("Periodic task registered", "task", task, "spec", spec, "entry_id", id)
	}
	return scheduler, nil
}
