package scheduler

import (
	"context"
	"time"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/internal/queue"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Enqueuer places delayed jobs on a queue.
type Enqueuer interface {
	EnqueueAt(ctx context.Context, queue string, job jobs.Job, when time.Time) (string, error)
}

// Client schedules one-off conversation jobs.
type Client struct {
	enqueuer Enqueuer
}

func NewClient(enqueuer Enqueuer) *Client {
	return &Client{enqueuer: enqueuer}
}

// ScheduleReminder queues text to be sent to the conversation's contact at
// the given time. A time in the past runs immediately.
func (c *Client) ScheduleReminder(ctx context.Context, conversationID uuid.UUID, text string, at time.Time) (string, error) {
	text = sanitize.Text(text)
	if conversationID == uuid.Nil {
		return "", apperr.Validation("conversation id is required")
	}
	if text == "" {
		return "", apperr.Validation("reminder text is required")
	}

	job, err := jobs.New(jobs.TypeReminder, ReminderPayload{ConversationID: conversationID, Text: text}, map[string]string{
		"runAt": at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	return c.enqueuer.EnqueueAt(ctx, queue.Scheduled, job, at)
}
