package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a message relative to the business.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Message is an immutable entry in a conversation's history.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Direction      Direction
	Content        string
	ExternalID     string
	CreatedAt      time.Time
}

// LLMInteraction audits one language model call.
type LLMInteraction struct {
	ConversationID uuid.UUID
	Purpose        string
	PromptChars    int
	ResponseChars  int
	TokensUsed     int
	LatencyMs      int64
	CreatedAt      time.Time
}

// Operator is a human who takes over conversations.
type Operator struct {
	ID       uuid.UUID
	Name     string
	Phone    string
	Email    string
	IsActive bool
	OpenLoad int
}
