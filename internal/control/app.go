package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lun1tunes/instachatico/internal/core/answer"
	"github.com/lun1tunes/instachatico/internal/core/config"
	"github.com/lun1tunes/instachatico/internal/core/domain"
	"github.com/lun1tunes/instachatico/internal/core/worker"
	"github.com/lun1tunes/instachatico/internal/infra/llm"
	"github.com/lun1tunes/instachatico/internal/infra/platform"
	redisclient "github.com/lun1tunes/instachatico/internal/infra/redis"
	"github.com/lun1tunes/instachatico/internal/infra/storage"
	"github.com/lun1tunes/instachatico/internal/infra/storage/memory"
	"github.com/lun1tunes/instachatico/internal/infra/storage/postgres"
	"github.com/lun1tunes/instachatico/internal/moderation/classify"
	"github.com/lun1tunes/instachatico/internal/moderation/generate"
	"github.com/lun1tunes/instachatico/internal/moderation/health"
	"github.com/lun1tunes/instachatico/internal/moderation/ingest"
	"github.com/lun1tunes/instachatico/internal/moderation/poll"
	"github.com/lun1tunes/instachatico/internal/moderation/reply"
	"github.com/lun1tunes/instachatico/internal/moderation/stats"
	"github.com/lun1tunes/instachatico/internal/moderation/tasks"
)

// limiter admits calls against a shared quota.
type limiter interface {
	Acquire(ctx context.Context) (allowed bool, retryAfter time.Duration, err error)
}

// Repositories groups the storage backends.
type Repositories struct {
	Comments        storage.CommentRepository
	Answers         storage.AnswerRepository
	Classifications storage.ClassificationRepository
	Usage           storage.TokenUsageRepository
	Stats           storage.StatsRepository
}

// App wires storage, queue, platform and use cases together.
type App struct {
	cfg      *config.AppConfig
	db       *postgres.DB
	store    *memory.MemoryStorage
	redis    *redisclient.Client
	redisOpt asynq.RedisClientOpt
	queue    tasks.Queue
	closers  []func() error

	Repos       Repositories
	Dispatcher  *tasks.Dispatcher
	Platform    *platform.Router
	YouTube     *platform.YouTubeClient
	Lifecycle   *answer.Lifecycle
	Ingest      *ingest.UseCase
	DeadLetters *redisclient.DeadLetterRepo
	Sweeper     *worker.Sweeper
	Reporter    *stats.Reporter

	server       *asynq.Server
	scheduler    *asynq.Scheduler
	healthServer *health.Server
	log          *slog.Logger
}

// NewApp connects to storage and Redis and builds the shared components.
// The LLM client is only created by StartWorker.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	opt, err := tasks.RedisConnOpt(cfg.Redis)
	if err != nil {
		return nil, err
	}
	q := tasks.NewAsynqQueue(opt, cfg.Tasks.Timeout)

	app, err := newApp(ctx, cfg, q)
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	app.redisOpt = opt
	app.closers = append(app.closers, q.Close)
	return app, nil
}

func newApp(ctx context.Context, cfg *config.AppConfig, q tasks.Queue) (*App, error) {
	app := &App{
		cfg:   cfg,
		queue: q,
		log:   slog.Default().With("component", "app"),
	}

	// 1. Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if cfg.Database.MigrateOnStart {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		app.db = db
		app.closers = append(app.closers, db.Close)
		app.Repos = Repositories{
			Comments:        postgres.NewCommentRepo(db),
			Answers:         postgres.NewAnswerRepo(db),
			Classifications: postgres.NewClassificationRepo(db),
			Usage:           postgres.NewTokenUsageRepo(db),
			Stats:           postgres.NewStatsRepo(db),
		}
		app.log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		app.store = store
		app.Repos = Repositories{
			Comments:        memory.NewCommentRepo(store),
			Answers:         memory.NewAnswerRepo(store),
			Classifications: memory.NewClassificationRepo(store),
			Usage:           memory.NewTokenUsageRepo(store),
			Stats:           memory.NewStatsRepo(store),
		}
		app.log.Warn("Using Memory storage; state is not shared between processes")
	}

	// 2. Redis
	rc, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}
	app.redis = rc
	app.closers = append(app.closers, rc.Close)
	app.DeadLetters = redisclient.NewDeadLetterRepo(rc)

	// 3. Platforms, each behind its own reply quota
	igLimiter, err := redisclient.NewRateLimiter(rc, cfg.RateLimits.Instagram)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to init instagram rate limiter: %w", err)
	}
	app.Platform = platform.NewRouter(
		platform.NewLimited(platform.NewInstagramClient(cfg.Instagram), igLimiter),
		app.Repos.Comments,
		app.Repos.Answers,
	)
	if cfg.YouTube.Enabled() {
		ytLimiter, err := redisclient.NewRateLimiter(rc, cfg.RateLimits.YouTube)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to init youtube rate limiter: %w", err)
		}
		yt, err := platform.NewYouTubeClient(ctx, cfg.YouTube)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to init youtube client: %w", err)
		}
		app.YouTube = yt
		app.Platform.Register(domain.PlatformYouTube, platform.NewLimited(yt, ytLimiter))
		app.log.Info("YouTube enabled", "channel_id", cfg.YouTube.ChannelID)
	}

	// 4. Shared use cases
	app.Dispatcher = tasks.NewDispatcher(q)
	app.Lifecycle = answer.NewLifecycle(app.Repos.Answers, app.Repos.Comments, app.Platform).
		WithLocker(redisclient.NewLocker(rc), cfg.Locks.ReplyTTL)
	app.Ingest = ingest.New(app.Repos.Comments, app.Repos.Answers, app.Repos.Classifications, app.Dispatcher)
	app.Sweeper = worker.NewSweeper(cfg.Beat.SweeperConfig, app.Repos.Classifications, q, cfg.Retry.Schedule)
	app.Reporter = stats.NewReporter(app.Repos.Stats, cfg.Beat.StatsPeriod)

	return app, nil
}

// Handlers builds the task handlers, including the LLM-backed use cases.
func (a *App) Handlers() (*tasks.Handlers, error) {
	llmClient, err := llm.New(a.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to init llm client: %w", err)
	}

	// nil interface when disabled; use cases skip the check
	var llmLimiter limiter
	if a.cfg.RateLimits.LLM.Limit > 0 {
		l, err := redisclient.NewRateLimiter(a.redis, a.cfg.RateLimits.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to init llm rate limiter: %w", err)
		}
		llmLimiter = l
	}

	locker := redisclient.NewLocker(a.redis)
	r := a.Repos

	classifier := classify.New(r.Comments, r.Classifications, r.Usage, llmClient, llmLimiter, a.Dispatcher, a.cfg.Moderation)
	generator := generate.New(r.Comments, r.Classifications, r.Answers, a.Lifecycle, r.Usage, llmClient, llmLimiter, a.Dispatcher)
	replies := reply.New(r.Comments, r.Answers, a.Platform, locker, a.cfg.Locks.ReplyTTL)

	// nil interface when YouTube is off; the poll skips
	var source poll.Source
	if a.YouTube != nil {
		source = a.YouTube
	}
	poller := poll.New(source, r.Comments, a.Ingest, a.cfg.YouTube.MaxVideos)

	return &tasks.Handlers{
		Runner:   tasks.NewRunner(a.queue, a.cfg.Retry.Schedule, a.DeadLetters, a.cfg.Tasks.Timeout),
		Classify: classifier,
		Generate: generator,
		Reply:    replies,
		Hide:     replies,
		Delete:   a.Lifecycle,
		Sweep:    a.Sweeper,
		Report:   a.Reporter,
		Poll:     poller,
	}, nil
}

// StartWorker starts the task server, the health server and the DB metrics collector.
func (a *App) StartWorker(ctx context.Context) error {
	handlers, err := a.Handlers()
	if err != nil {
		return err
	}

	a.server = tasks.NewServer(a.redisOpt, a.cfg.Tasks)
	if err := a.server.Start(handlers.Mux()); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}

	a.healthServer = health.NewServer(a.HealthMonitor(), a.cfg.Server.Port)
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.log.Info("Worker started",
		"concurrency", a.cfg.Tasks.Concurrency,
		"queues", a.cfg.Tasks.Queues,
		"port", a.cfg.Server.Port,
	)
	return nil
}

// StartBeat starts the periodic scheduler.
func (a *App) StartBeat(ctx context.Context) error {
	scheduler, err := tasks.NewScheduler(a.redisOpt, a.cfg.Beat.BeatConfig)
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.scheduler = scheduler
	a.log.Info("Beat started", "entries", a.cfg.Beat.Entries())
	return nil
}

// HealthMonitor checks the database, Redis, dead letters and retry backlog.
func (a *App) HealthMonitor() *health.Monitor {
	pingers := map[string]health.Pinger{"redis": a.redis}
	if a.db != nil {
		pingers["database"] = health.PingFunc(a.db.Health)
	}
	return health.NewMonitor(pingers, a.DeadLetters, a.Repos.Classifications, health.Thresholds{})
}

// QueueStats inspects the task queues.
func (a *App) QueueStats() ([]tasks.QueueStats, error) {
	return tasks.Inspect(a.redisOpt)
}

// Requeue resets the classification of commentID and queues it from attempt 0.
func (a *App) Requeue(ctx context.Context, commentID string) error {
	c, err := a.Repos.Comments.GetByID(ctx, commentID)
	if err != nil {
		return fmt.Errorf("failed to load comment: %w", err)
	}
	if c == nil {
		return fmt.Errorf("%w: %s", answer.ErrCommentNotFound, commentID)
	}

	cls, err := a.Repos.Classifications.GetByCommentID(ctx, commentID)
	if err != nil {
		return fmt.Errorf("failed to load classification: %w", err)
	}
	if cls != nil {
		cls.ProcessingStatus = domain.ProcessingPending
		cls.RetryCount = 0
		cls.LastError = nil
		cls.ProcessingStartedAt = nil
		cls.ProcessingCompletedAt = nil
		if err := a.Repos.Classifications.Save(ctx, cls); err != nil {
			return fmt.Errorf("failed to reset classification: %w", err)
		}
	}

	if !a.Dispatcher.Dispatch(ctx, tasks.TaskClassifyComment, tasks.Payload{CommentID: commentID}) {
		return errors.New("failed to enqueue classification")
	}
	return nil
}

// Stop shuts down whatever was started and closes connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.server != nil {
		a.server.Shutdown()
	}

	var err error
	if a.healthServer != nil {
		err = a.healthServer.Stop(ctx)
	}
	a.close()
	return err
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
