// Package bootstrap is the composition root shared by the API and the worker:
// it opens the infrastructure connections and wires the conversation core.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/conversations/repository"
	"chatflow_backend/internal/handoff"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/internal/llm"
	"chatflow_backend/internal/media"
	"chatflow_backend/internal/notification"
	"chatflow_backend/internal/pipeline"
	"chatflow_backend/internal/queue"
	"chatflow_backend/internal/scheduler"
	"chatflow_backend/internal/transcription"
	"chatflow_backend/internal/vectorstore"
	"chatflow_backend/internal/whatsapp"
	"chatflow_backend/platform/ai/embeddings"
	"chatflow_backend/platform/ai/moonshot"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/db"
	"chatflow_backend/platform/events"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/qdrant"
	"chatflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Infrastructure holds the process-wide connections.
type Infrastructure struct {
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Queues *queue.Manager
	Bus    *events.InMemoryBus
}

// Connect opens the database (running migrations when migrate is set) and the
// queue broker. Startup races with the database container, so both steps retry.
func Connect(ctx context.Context, cfg *config.Config, migrate bool, log *logger.Logger) (*Infrastructure, error) {
	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info("database connection established")

	if migrate {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, pool)
		}); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database migrations complete")
	}

	rdb, err := queue.NewRedisClient(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis client: %w", err)
	}
	manager, err := queue.NewManager(cfg, rdb, log)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("queue manager: %w", err)
	}

	return &Infrastructure{
		Pool:   pool,
		Redis:  rdb,
		Queues: manager,
		Bus:    events.NewInMemoryBus(log),
	}, nil
}

// Close releases every connection.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	_ = i.Queues.Close()
	_ = i.Redis.Close()
	i.Pool.Close()
}

// Components is the wired conversation core.
type Components struct {
	Repository   *repository.Repository
	Validator    *validator.Validator
	Prompts      *pipeline.Prompts
	WhatsApp     *whatsapp.Client
	Orchestrator *pipeline.Orchestrator
	Handoff      *handoff.Module
	Notification *notification.Module
	Reminders    *scheduler.Client
	Registry     *jobs.Registry
	Runner       *jobs.Runner
}

// Build wires the pipeline and registers an executor for every job type.
// Vector memory, transcription, media archiving and e-mail are optional and
// left out when not configured.
func Build(ctx context.Context, cfg *config.Config, infra *Infrastructure, log *logger.Logger) (*Components, error) {
	repo := repository.New(infra.Pool)
	val := validator.New()

	prompts, err := pipeline.LoadPrompts(cfg.GetPromptsFile())
	if err != nil {
		return nil, err
	}
	prompts.WithUrgencyKeywords(cfg.GetUrgencyKeywords())

	wa := whatsapp.NewClient(cfg, log)
	if wa == nil {
		return nil, errors.New("WHATSAPP_URL is required")
	}
	if cfg.GetMoonshotAPIKey() == "" {
		return nil, errors.New("MOONSHOT_API_KEY is required")
	}
	model := llm.New(moonshot.NewModel(moonshot.Config{
		APIKey:  cfg.GetMoonshotAPIKey(),
		BaseURL: cfg.GetMoonshotBaseURL(),
		Model:   cfg.GetMoonshotModel(),
	}), log)

	vectors := newVectorStore(ctx, cfg, log)
	archive := newMediaArchive(ctx, cfg, log)
	transcriber := transcription.New(cfg, log)
	if transcriber == nil {
		log.Warn("no transcription backend configured; voice messages get a placeholder")
	}

	var mailer notification.Mailer
	if m := notification.NewSMTPMailer(cfg); m != nil {
		mailer = m
	}
	notifications := notification.NewModule(infra.Pool, repo, wa, mailer, infra.Bus, log)
	notifications.RegisterHandlers(infra.Bus)

	handoffModule := handoff.NewModule(repo, infra.Bus, log)
	escalations := handoff.NewEscalationExecutor(handoffModule.Service(), notifications.Notifier(), val, log)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Store:       repo,
		LLM:         model,
		Gateway:     wa,
		Enqueuer:    infra.Queues,
		Vectors:     vectors,
		Transcriber: transcriber,
		Archive:     archive,
		Notifier:    notifications.Notifier(),
		Escalator:   escalations,
		Prompts:     prompts,
		Log:         log,
	}, pipeline.Settings{
		ContextLimit:     cfg.GetContextLimit(),
		HandoffThreshold: cfg.GetHandoffScoreThreshold(),
		Language:         cfg.GetTranscriptionLanguage(),
	})

	var memory scheduler.MemoryEraser
	if vectors != nil {
		memory = vectors
	}

	registry := jobs.NewRegistry()
	registry.Register(jobs.TypeMessageIngestion, pipeline.NewIngestionExecutor(pipeline.NewRedisDeduper(infra.Redis, pipeline.DefaultDedupeTTL), infra.Queues, val, log))
	registry.Register(jobs.TypeAIProcessing, pipeline.NewAIProcessingExecutor(orchestrator, val))
	registry.Register(jobs.TypeEscalation, escalations)
	registry.Register(jobs.TypeReminder, scheduler.NewReminderExecutor(repo, wa, val, log))
	registry.Register(jobs.TypeReengagement, scheduler.NewReengagementExecutor(repo, wa, prompts, cfg.GetReengagementWindow(), log))
	registry.Register(jobs.TypeCleanup, scheduler.NewCleanupExecutor(repo, memory, notifications.Outbox(), cfg.GetStaleConversationWindow(), log))
	registry.Register(jobs.TypeNotificationDue, notifications.Dispatcher())

	policy := jobs.RetryPolicy{MaxRetries: cfg.GetJobMaxRetries(), Backoff: cfg.GetJobBackoff()}
	runner := jobs.NewRunner(registry, policy, infra.Queues, log)

	return &Components{
		Repository:   repo,
		Validator:    val,
		Prompts:      prompts,
		WhatsApp:     wa,
		Orchestrator: orchestrator,
		Handoff:      handoffModule,
		Notification: notifications,
		Reminders:    scheduler.NewClient(infra.Queues),
		Registry:     registry,
		Runner:       runner,
	}, nil
}

// newVectorStore returns nil when Qdrant or the embedding API is missing.
func newVectorStore(ctx context.Context, cfg *config.Config, log *logger.Logger) ports.VectorStore {
	if !cfg.IsQdrantEnabled() || !cfg.IsEmbeddingEnabled() {
		log.Warn("vector memory disabled; QDRANT_URL and EMBEDDING_API_URL are required")
		return nil
	}
	index := qdrant.NewClient(qdrant.Config{
		BaseURL:    cfg.GetQdrantURL(),
		APIKey:     cfg.GetQdrantAPIKey(),
		Collection: cfg.GetQdrantCollection(),
	})
	embedder := embeddings.NewClient(embeddings.Config{
		BaseURL: cfg.GetEmbeddingAPIURL(),
		APIKey:  cfg.GetEmbeddingAPIKey(),
	})

	// The collection size follows whatever the embedding model produces.
	probe, err := embedder.Embed(ctx, "dimension probe")
	if err != nil {
		log.Warn("embedding API unreachable at startup; collection not verified", "error", err)
	} else if err := index.EnsureCollection(ctx, len(probe)); err != nil {
		log.Warn("failed to ensure vector collection", "collection", cfg.GetQdrantCollection(), "error", err)
	}
	return vectorstore.New(index, embedder)
}

// newMediaArchive returns nil when MinIO is not configured or unusable.
func newMediaArchive(ctx context.Context, cfg *config.Config, log *logger.Logger) ports.MediaArchive {
	archive, err := media.NewMinIOArchive(cfg)
	if err != nil {
		log.Error("failed to initialize media archive", "error", err)
		return nil
	}
	if archive == nil {
		log.Warn("media archive disabled; inbound media is fetched from the gateway")
		return nil
	}
	if err := withRetry(ctx, log, "ensure inbound media bucket", 5, 2*time.Second, func() error {
		return archive.EnsureBucket(ctx)
	}); err != nil {
		log.Error("failed to ensure inbound media bucket", "bucket", cfg.GetMinioBucketInboundMedia(), "error", err)
		return nil
	}
	log.Info("media archive initialized", "bucket", cfg.GetMinioBucketInboundMedia())
	return archive
}

// withRetry runs fn up to attempts times with quadratic backoff.
func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
