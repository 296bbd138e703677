// Package ports defines the collaborators the conversation core depends on.
// Implementations live in their own packages and are injected at startup.
package ports

import (
	"context"
	"time"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

// GenerateRequest is one language model call.
type GenerateRequest struct {
	Purpose     string
	System      string
	Prompt      string
	Context     []string
	MaxTokens   int32
	Temperature float32
}

// Generation is the model's answer with usage metadata.
type Generation struct {
	Text       string
	TokensUsed int
	Latency    time.Duration
}

// LLM generates text. Rate limits and timeouts surface as retryable apperr
// kinds; rejected requests as BadRequest.
type LLM interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// ContextDoc is one stored exchange returned by the vector store.
type ContextDoc struct {
	ID       string
	Text     string
	Metadata map[string]any
	Score    float64
}

// VectorStore keeps semantic conversation memory.
type VectorStore interface {
	Add(ctx context.Context, conversationID uuid.UUID, text string, metadata map[string]any) (string, error)
	Query(ctx context.Context, text string, conversationID *uuid.UUID, topK int) ([]ContextDoc, error)
	GetContext(ctx context.Context, conversationID uuid.UUID, limit int) ([]ContextDoc, error)
	Delete(ctx context.Context, conversationID uuid.UUID) (int, error)
}

// Gateway sends messages to contacts.
type Gateway interface {
	SendText(ctx context.Context, chatID, text string) (string, error)
}

// Transcriber turns audio into text. An empty result means nothing was recognised.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL, language string) (string, error)
}

// MediaArchive copies inbound media to storage we control and returns a URL
// the transcriber can fetch.
type MediaArchive interface {
	Archive(ctx context.Context, conversationID uuid.UUID, media domain.Media) (string, error)
}

// Notifier alerts human operators. Fire-and-forget: delivery problems are
// the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, operatorID uuid.UUID, kind string, payload map[string]any)
}

// EscalationRequest asks for a conversation to be handed to a human.
type EscalationRequest struct {
	ConversationID uuid.UUID `json:"conversationId" validate:"required"`
	Trigger        string    `json:"trigger" validate:"required"`
	Urgent         bool      `json:"urgent"`
}

// Escalation triggers.
const (
	TriggerUrgency        = "urgency"
	TriggerHumanRequest   = "human_request"
	TriggerScoreThreshold = "score_threshold"
	TriggerBotConfusion   = "bot_confusion"
	TriggerManual         = "manual"
)

// Escalator runs an escalation in the calling goroutine. Urgent escalations
// go through it when the escalation queue refuses the job.
type Escalator interface {
	Escalate(ctx context.Context, req EscalationRequest) error
}

// Enqueuer schedules follow-up work.
type Enqueuer interface {
	EnqueueAIProcessing(ctx context.Context, payload any) (string, error)
	EnqueueEscalation(ctx context.Context, payload any) (string, error)
}

// NewConversationParams identifies the contact of a first inbound message.
type NewConversationParams struct {
	ExternalChatID string
	ContactPhone   string
	ContactName    string
}

// ConversationReader provides read access to conversations.
type ConversationReader interface {
	GetConversation(ctx context.Context, id uuid.UUID) (domain.Conversation, error)
	GetConversationByChatID(ctx context.Context, chatID string) (domain.Conversation, error)
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
}

// ConversationWriter mutates conversations. Mutations run read-modify-write
// inside one transaction with the row locked.
type ConversationWriter interface {
	GetOrCreateConversation(ctx context.Context, params NewConversationParams) (domain.Conversation, domain.Lead, bool, error)
	MutateConversation(ctx context.Context, id uuid.UUID, fn func(*domain.Conversation) error) (domain.Conversation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status) (domain.Conversation, error)
	UpdateScore(ctx context.Context, change ScoreChange) (before, after int, err error)
}

// ScoreChange is one classified message's effect on a lead. With a
// SourceMessageID the change applies once per message: a repeat returns the
// scores recorded the first time.
type ScoreChange struct {
	LeadID          uuid.UUID
	ConversationID  uuid.UUID
	Intent          domain.Intent
	Delta           int
	SourceMessageID string
}

// MessageStore is the append-only message history.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error)
}

// AuditLog records write-once interaction entries.
type AuditLog interface {
	RecordLLMInteraction(ctx context.Context, entry domain.LLMInteraction) error
}

// MaintenanceStore serves the scheduled jobs.
type MaintenanceStore interface {
	ListReengagementCandidates(ctx context.Context, idleSince time.Time, limit int) ([]domain.Conversation, error)
	MarkReengaged(ctx context.Context, id uuid.UUID, at time.Time) error
	ListStaleConversations(ctx context.Context, idleSince time.Time, limit int) ([]domain.Conversation, error)
}

// OperatorStore finds humans to hand conversations to.
type OperatorStore interface {
	GetOperator(ctx context.Context, id uuid.UUID) (domain.Operator, error)
	LeastLoadedOperator(ctx context.Context) (domain.Operator, error)
}

// Repository is the full persistence contract.
type Repository interface {
	ConversationReader
	ConversationWriter
	MessageStore
	AuditLog
	MaintenanceStore
	OperatorStore
}
