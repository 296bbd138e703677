package scheduler

import (
	"context"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

// ReengagementStore lists idle conversations and remembers who was nudged.
type ReengagementStore interface {
	MessageAppender
	ListReengagementCandidates(ctx context.Context, idleSince time.Time, limit int) ([]domain.Conversation, error)
	MarkReengaged(ctx context.Context, id uuid.UUID, at time.Time) error
}

// NudgeRenderer renders the re-engagement text for a contact.
type NudgeRenderer interface {
	ReengagementText(contact string) string
}

// ReengagementExecutor nudges bot conversations that went quiet. Each
// conversation is nudged at most once per silence.
type ReengagementExecutor struct {
	store   ReengagementStore
	gateway ports.Gateway
	texts   NudgeRenderer
	window  time.Duration
	batch   int
	now     func() time.Time
	log     *logger.Logger
}

func NewReengagementExecutor(store ReengagementStore, gateway ports.Gateway, texts NudgeRenderer, window time.Duration, log *logger.Logger) *ReengagementExecutor {
	if window <= 0 {
		window = defaultReengagementWindow
	}
	return &ReengagementExecutor{
		store:   store,
		gateway: gateway,
		texts:   texts,
		window:  window,
		batch:   defaultBatchSize,
		now:     time.Now,
		log:     log,
	}
}

func (e *ReengagementExecutor) Execute(ctx context.Context, _ jobs.Job) jobs.Outcome {
	now := e.now().UTC()
	candidates, err := e.store.ListReengagementCandidates(ctx, now.Add(-e.window), e.batch)
	if err != nil {
		return jobs.Classify(err)
	}

	log := e.log.WithContext(ctx)
	var sent, transient int
	var lastErr error
	for _, conv := range candidates {
		if err := ctx.Err(); err != nil {
			return jobs.Retry("re-engagement interrupted", err)
		}
		text := e.texts.ReengagementText(conv.ContactName)
		messageID, err := e.gateway.SendText(ctx, conv.ExternalChatID, text)
		if err != nil {
			lastErr = err
			if apperr.IsRetryable(err) {
				transient++
			}
			log.Warn("re-engagement send failed", "conversationId", conv.ID, "error", err)
			continue
		}
		sent++

		// Marked and appended with the same timestamp so the conversation is
		// not a candidate again until the contact writes back.
		if err := e.store.MarkReengaged(ctx, conv.ID, now); err != nil {
			log.Warn("failed to mark conversation re-engaged", "conversationId", conv.ID, "error", err)
		}
		if _, err := e.store.AppendMessage(ctx, outboundMessage(conv.ID, text, messageID, now)); err != nil {
			log.Warn("failed to record re-engagement message", "conversationId", conv.ID, "error", err)
		}
	}

	if len(candidates) > 0 && transient == len(candidates) {
		return jobs.Retry(fmt.Sprintf("all %d re-engagement sends failed", transient), lastErr)
	}
	if len(candidates) > 0 {
		log.Info("re-engagement run finished", "candidates", len(candidates), "sent", sent)
	}
	return jobs.Success(map[string]any{
		"candidates": len(candidates),
		"sent":       sent,
		"failed":     len(candidates) - sent,
	})
}
