package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lun1tunes/instachatico/internal/infra/redis"
)

// RedisConnOpt converts the shared Redis config into asynq connection options.
func RedisConnOpt(cfg redis.Config) (asynq.RedisClientOpt, error) {
	opts, err := cfg.Options()
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	}, nil
}

// AsynqQueue is the Redis-backed Queue.
type AsynqQueue struct {
	client  *asynq.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewAsynqQueue creates a queue client. timeout is the per-task execution deadline.
func NewAsynqQueue(opt asynq.RedisConnOpt, timeout time.Duration) *AsynqQueue {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &AsynqQueue{
		client:  asynq.NewClient(opt),
		timeout: timeout,
		log:     slog.Default().With("component", "task_queue"),
	}
}

// Enqueue submits one attempt. A duplicate of an attempt already queued is not an error.
func (q *AsynqQueue) Enqueue(ctx context.Context, task string, p Payload, delay time.Duration) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Queue timeout leaves room for the runner's own deadline to fire first.
	opts := []asynq.Option{
		asynq.Queue(QueueFor(task)),
		asynq.TaskID(TaskID(task, p)),
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout + 30*time.Second),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(task, body), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			q.log.Debug("Task already queued", "task", task, "task_id", TaskID(task, p))
			return nil
		}
		return fmt.Errorf("failed to enqueue %s: %w", task, err)
	}
	q.log.Debug("Task queued", "task", task, "task_id", info.ID, "queue", info.Queue, "delay", delay)
	return nil
}

// Close releases the client connection.
func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// ServerConfig configures the worker server.
type ServerConfig struct {
	Concurrency     int            `yaml:"concurrency"`
	Queues          map[string]int `yaml:"queues"`
	Timeout         time.Duration  `yaml:"timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
}

// DefaultQueues gives the LLM queue the most weight.
func DefaultQueues() map[string]int {
	return map[string]int{
		QueueLLM:         4,
		QueuePlatform:    3,
		QueueMaintenance: 1,
	}
}

// NewServer creates the asynq worker server.
func NewServer(opt asynq.RedisConnOpt, cfg ServerConfig) *asynq.Server {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = DefaultQueues()
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          queues,
		ShutdownTimeout: shutdown,
		Logger:          NewLogger(slog.Default().With("component", "asynq")),
		LogLevel:        asynq.InfoLevel,
	})
}

// Logger adapts slog to asynq.Logger.
type Logger struct {
	log *slog.Logger
}

// NewLogger wraps l.
func NewLogger(l *slog.Logger) *Logger {
	return &Logger{log: l}
}

func (l *Logger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l *Logger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l *Logger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l *Logger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }

// Fatal logs at error level. asynq calls it before exiting on unrecoverable errors.
func (l *Logger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...), "fatal", true) }

// QueueStats is a snapshot of one queue.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Archived  int
}

// Inspect returns stats for the known queues. Queues not yet created are reported empty.
func Inspect(opt asynq.RedisConnOpt) ([]QueueStats, error) {
	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	existing, err := inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, q := range existing {
		known[q] = true
	}

	var out []QueueStats
	for _, name := range []string{QueueLLM, QueuePlatform, QueueMaintenance} {
		stats := QueueStats{Queue: name}
		if known[name] {
			info, err := inspector.GetQueueInfo(name)
			if err != nil {
				return nil, fmt.Errorf("failed to inspect queue %s: %w", name, err)
			}
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}
