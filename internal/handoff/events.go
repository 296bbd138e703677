package handoff

import (
	"chatflow_backend/platform/events"

	"github.com/google/uuid"
)

// Event names published by the handoff service.
const (
	EventRequested = "handoff.requested"
	EventAssigned  = "handoff.assigned"
	EventCompleted = "handoff.completed"
	EventReleased  = "handoff.released"
)

// Changed is published after every accepted handoff step.
type Changed struct {
	events.BaseEvent
	Name           string     `json:"name"`
	ConversationID uuid.UUID  `json:"conversationId"`
	OperatorID     *uuid.UUID `json:"operatorId,omitempty"`
	Trigger        string     `json:"trigger,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
	Urgent         bool       `json:"urgent"`
}

func (e Changed) EventName() string { return e.Name }
