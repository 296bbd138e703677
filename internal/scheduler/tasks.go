// Package scheduler runs the time-driven conversation work: one-off reminders,
// periodic re-engagement nudges and housekeeping of stale conversations and
// delivered notifications.
package scheduler

import (
	"context"
	"time"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

const (
	defaultReengagementWindow = 24 * time.Hour
	defaultStaleWindow        = 14 * 24 * time.Hour
	defaultOutboxRetention    = 7 * 24 * time.Hour
	defaultBatchSize          = 200
)

// ReminderPayload is the body of a reminder job.
type ReminderPayload struct {
	ConversationID uuid.UUID `json:"conversationId" validate:"required"`
	Text           string    `json:"text" validate:"required,max=1000"`
}

// MessageAppender records outbound messages in the conversation history.
type MessageAppender interface {
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
}

func outboundMessage(conversationID uuid.UUID, text, externalID string, at time.Time) domain.Message {
	return domain.Message{
		ConversationID: conversationID,
		Direction:      domain.DirectionOutbound,
		Content:        text,
		ExternalID:     externalID,
		CreatedAt:      at,
	}
}
