package scheduler

import (
	"context"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

// CleanupStore finds and closes stale conversations.
type CleanupStore interface {
	ListStaleConversations(ctx context.Context, idleSince time.Time, limit int) ([]domain.Conversation, error)
	MutateConversation(ctx context.Context, id uuid.UUID, fn func(*domain.Conversation) error) (domain.Conversation, error)
}

// MemoryEraser drops a conversation's semantic memory.
type MemoryEraser interface {
	Delete(ctx context.Context, conversationID uuid.UUID) (int, error)
}

// OutboxPurger removes delivered notifications.
type OutboxPurger interface {
	PurgeDelivered(ctx context.Context, before time.Time) (int64, error)
}

// CleanupExecutor closes conversations nobody touched within the stale
// window, erases their memory and trims the notification outbox. Memory and
// outbox are optional.
type CleanupExecutor struct {
	store           CleanupStore
	memory          MemoryEraser
	outbox          OutboxPurger
	staleWindow     time.Duration
	outboxRetention time.Duration
	batch           int
	now             func() time.Time
	log             *logger.Logger
}

func NewCleanupExecutor(store CleanupStore, memory MemoryEraser, outbox OutboxPurger, staleWindow time.Duration, log *logger.Logger) *CleanupExecutor {
	if staleWindow <= 0 {
		staleWindow = defaultStaleWindow
	}
	return &CleanupExecutor{
		store:           store,
		memory:          memory,
		outbox:          outbox,
		staleWindow:     staleWindow,
		outboxRetention: defaultOutboxRetention,
		batch:           defaultBatchSize,
		now:             time.Now,
		log:             log,
	}
}

func (e *CleanupExecutor) Execute(ctx context.Context, _ jobs.Job) jobs.Outcome {
	now := e.now().UTC()
	stale, err := e.store.ListStaleConversations(ctx, now.Add(-e.staleWindow), e.batch)
	if err != nil {
		return jobs.Classify(err)
	}

	log := e.log.WithContext(ctx)
	var closed, memories, transient int
	var lastErr error
	for _, conv := range stale {
		if err := ctx.Err(); err != nil {
			return jobs.Retry("cleanup interrupted", err)
		}
		_, err := e.store.MutateConversation(ctx, conv.ID, func(c *domain.Conversation) error {
			if !c.IsOpen() {
				return nil
			}
			return c.TransitionTo(domain.StatusClosed)
		})
		if err != nil {
			lastErr = err
			if apperr.IsRetryable(err) {
				transient++
			}
			log.Warn("failed to close stale conversation", "conversationId", conv.ID, "error", err)
			continue
		}
		closed++

		if e.memory == nil {
			continue
		}
		n, err := e.memory.Delete(ctx, conv.ID)
		if err != nil {
			log.Warn("failed to erase conversation memory", "conversationId", conv.ID, "error", err)
			continue
		}
		memories += n
	}

	var purged int64
	if e.outbox != nil {
		purged, err = e.outbox.PurgeDelivered(ctx, now.Add(-e.outboxRetention))
		if err != nil {
			log.DatabaseError("purge notification outbox", err)
		}
	}

	if len(stale) > 0 && transient == len(stale) {
		return jobs.Retry(fmt.Sprintf("closing %d stale conversations failed", transient), lastErr)
	}
	if closed > 0 || purged > 0 {
		log.Info("cleanup finished", "closed", closed, "memoriesDeleted", memories, "outboxPurged", purged)
	}
	return jobs.Success(map[string]any{
		"closed":          closed,
		"memoriesDeleted": memories,
		"outboxPurged":    purged,
	})
}
