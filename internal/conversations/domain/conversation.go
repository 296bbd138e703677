package domain

import (
	"fmt"
	"time"

	"chatflow_backend/platform/apperr"

	"github.com/google/uuid"
)

// Conversation is one chat with one external contact. It is never deleted,
// only closed, and its states only change through TransitionTo and ApplyHandoff.
type Conversation struct {
	ID                 uuid.UUID
	ExternalChatID     string
	ContactPhone       string
	ContactName        string
	Status             Status
	Handoff            HandoffState
	IsUrgent           bool
	AssignedOperatorID *uuid.UUID
	LeadID             uuid.UUID
	ReengagedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessageAt      time.Time
}

// NewConversation returns an ACTIVE bot-handled conversation.
func NewConversation(chatID, phone, name string, leadID uuid.UUID, now time.Time) Conversation {
	return Conversation{
		ID:             uuid.New(),
		ExternalChatID: chatID,
		ContactPhone:   phone,
		ContactName:    name,
		Status:         StatusActive,
		Handoff:        HandoffActiveBot,
		LeadID:         leadID,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastMessageAt:  now,
	}
}

// TransitionTo moves the primary status. Moving back to ACTIVE hands the
// conversation back to the bot.
func (c *Conversation) TransitionTo(to Status) error {
	if !CanTransition(c.Status, to) {
		return apperr.BusinessRule(fmt.Sprintf("conversation cannot move from %s to %s", c.Status, to))
	}
	if to == StatusActive {
		c.Handoff = HandoffActiveBot
		c.AssignedOperatorID = nil
	}
	c.Status = to
	return nil
}

// ApplyHandoff advances the handoff sub-machine on behalf of operatorID and
// moves the primary status along with it. A rejected event leaves the
// conversation unchanged.
func (c *Conversation) ApplyHandoff(event HandoffEvent, operatorID *uuid.UUID) error {
	next, ok := NextHandoff(c.Handoff, event)
	if !ok {
		return apperr.BusinessRule(fmt.Sprintf("handoff %s is not allowed from %s", event, c.Handoff))
	}

	switch event {
	case EventAssign:
		if operatorID == nil {
			return apperr.BusinessRule("assignment requires an operator")
		}
		if c.AssignedOperatorID != nil && *c.AssignedOperatorID != *operatorID {
			return apperr.BusinessRule(fmt.Sprintf("conversation is reserved for operator %s", *c.AssignedOperatorID))
		}
	case EventComplete, EventRelease:
		if operatorID == nil || c.AssignedOperatorID == nil || *c.AssignedOperatorID != *operatorID {
			return apperr.BusinessRule(fmt.Sprintf("only the assigned operator can %s this conversation", event))
		}
	}

	target := handoffStatus[next]
	if c.Status != target && !CanTransition(c.Status, target) {
		return apperr.BusinessRule(fmt.Sprintf("handoff %s conflicts with status %s", event, c.Status))
	}

	c.Handoff = next
	c.Status = target
	switch event {
	case EventAssign:
		id := *operatorID
		c.AssignedOperatorID = &id
	case EventRelease:
		c.AssignedOperatorID = nil
	}
	return nil
}

// Reserve earmarks a pending handoff for operatorID. Only that operator can
// then accept it.
func (c *Conversation) Reserve(operatorID uuid.UUID) error {
	if c.Handoff != HandoffPending {
		return apperr.BusinessRule(fmt.Sprintf("only pending handoffs can be reserved, conversation is %s", c.Handoff))
	}
	if c.AssignedOperatorID != nil && *c.AssignedOperatorID != operatorID {
		return apperr.BusinessRule(fmt.Sprintf("conversation is reserved for operator %s", *c.AssignedOperatorID))
	}
	c.AssignedOperatorID = &operatorID
	return nil
}

// HumanOwned reports whether an operator, not the bot, answers this conversation.
func (c Conversation) HumanOwned() bool {
	switch {
	case c.Status == StatusWaitingSecretary, c.Status == StatusTransferred:
		return true
	case c.Handoff == HandoffPending, c.Handoff == HandoffActiveHuman:
		return true
	}
	return false
}

// IsOpen reports whether the lifecycle is still running.
func (c Conversation) IsOpen() bool {
	return c.Status != StatusClosed
}

// MarkUrgent sets the urgency flag. It reports whether the flag changed; the
// flag is never cleared.
func (c *Conversation) MarkUrgent() bool {
	if c.IsUrgent {
		return false
	}
	c.IsUrgent = true
	return true
}
