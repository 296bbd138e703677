package scheduler

import (
	"context"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

// ReminderStore is what the reminder executor reads and writes.
type ReminderStore interface {
	MessageAppender
	GetConversation(ctx context.Context, id uuid.UUID) (domain.Conversation, error)
}

// ReminderExecutor sends a scheduled reminder unless the conversation was
// closed in the meantime.
type ReminderExecutor struct {
	store    ReminderStore
	gateway  ports.Gateway
	validate jobs.StructValidator
	now      func() time.Time
	log      *logger.Logger
}

func NewReminderExecutor(store ReminderStore, gateway ports.Gateway, validate jobs.StructValidator, log *logger.Logger) *ReminderExecutor {
	return &ReminderExecutor{store: store, gateway: gateway, validate: validate, now: time.Now, log: log}
}

func (e *ReminderExecutor) Execute(ctx context.Context, job jobs.Job) jobs.Outcome {
	var p ReminderPayload
	if err := job.Decode(&p, e.validate); err != nil {
		return jobs.Fatal("invalid reminder payload", err)
	}

	conv, err := e.store.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return jobs.Classify(err)
	}
	if !conv.IsOpen() {
		e.log.WithContext(ctx).Info("reminder skipped for closed conversation", "conversationId", conv.ID)
		return jobs.Success(map[string]any{"skipped": "closed"})
	}

	messageID, err := e.gateway.SendText(ctx, conv.ExternalChatID, p.Text)
	if err != nil {
		return jobs.Classify(err)
	}

	// Sent already; a failed history write must not resend it.
	if _, err := e.store.AppendMessage(ctx, outboundMessage(conv.ID, p.Text, messageID, e.now().UTC())); err != nil {
		e.log.WithContext(ctx).Warn("failed to record reminder", "conversationId", conv.ID, "error", err)
	}
	return jobs.Success(map[string]any{"messageId": messageID})
}
