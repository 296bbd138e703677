// Package handoff moves conversations between the bot and human operators.
package handoff

import (
	"context"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/events"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Store is the persistence the handoff service needs.
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (domain.Conversation, error)
	MutateConversation(ctx context.Context, id uuid.UUID, fn func(*domain.Conversation) error) (domain.Conversation, error)
	GetOperator(ctx context.Context, id uuid.UUID) (domain.Operator, error)
	LeastLoadedOperator(ctx context.Context) (domain.Operator, error)
}

type Service struct {
	store Store
	bus   events.Bus
	log   *logger.Logger
}

func NewService(store Store, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, bus: bus, log: log}
}

// RequestHandoff moves a bot conversation to PENDING_HANDOFF. A conversation
// that already waits for or belongs to a human is returned unchanged.
func (s *Service) RequestHandoff(ctx context.Context, conversationID uuid.UUID, trigger string) (domain.Conversation, error) {
	requested := false
	conv, err := s.store.MutateConversation(ctx, conversationID, func(c *domain.Conversation) error {
		if c.Handoff == domain.HandoffPending || c.Handoff == domain.HandoffActiveHuman {
			return nil
		}
		if err := c.ApplyHandoff(domain.EventRequest, nil); err != nil {
			return err
		}
		requested = true
		return nil
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if requested {
		s.log.WithContext(ctx).Info("handoff requested", "conversationId", conversationID, "trigger", trigger)
		s.publish(ctx, EventRequested, conv, nil, trigger, "")
	}
	return conv, nil
}

// Reserve earmarks a pending handoff for an operator.
func (s *Service) Reserve(ctx context.Context, conversationID, operatorID uuid.UUID) (domain.Conversation, error) {
	return s.store.MutateConversation(ctx, conversationID, func(c *domain.Conversation) error {
		return c.Reserve(operatorID)
	})
}

// Assign hands a pending conversation to operatorID.
func (s *Service) Assign(ctx context.Context, conversationID, operatorID uuid.UUID) (domain.Conversation, error) {
	op, err := s.store.GetOperator(ctx, operatorID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !op.IsActive {
		return domain.Conversation{}, apperr.Forbidden("operator is not active")
	}
	conv, err := s.store.MutateConversation(ctx, conversationID, func(c *domain.Conversation) error {
		return c.ApplyHandoff(domain.EventAssign, &operatorID)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	s.log.WithContext(ctx).Info("handoff assigned", "conversationId", conversationID, "operatorId", operatorID)
	s.publish(ctx, EventAssigned, conv, &operatorID, "", "")
	return conv, nil
}

// Complete closes a human-handled conversation. Only the assigned operator may do so.
func (s *Service) Complete(ctx context.Context, conversationID, operatorID uuid.UUID, outcome string) (domain.Conversation, error) {
	conv, err := s.store.MutateConversation(ctx, conversationID, func(c *domain.Conversation) error {
		return c.ApplyHandoff(domain.EventComplete, &operatorID)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	outcome = sanitize.Text(outcome)
	s.log.WithContext(ctx).Info("handoff completed", "conversationId", conversationID, "operatorId", operatorID, "outcome", outcome)
	s.publish(ctx, EventCompleted, conv, &operatorID, "", outcome)
	return conv, nil
}

// Release gives the conversation back to the bot.
func (s *Service) Release(ctx context.Context, conversationID, operatorID uuid.UUID) (domain.Conversation, error) {
	conv, err := s.store.MutateConversation(ctx, conversationID, func(c *domain.Conversation) error {
		return c.ApplyHandoff(domain.EventRelease, &operatorID)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	s.log.WithContext(ctx).Info("handoff released", "conversationId", conversationID, "operatorId", operatorID)
	s.publish(ctx, EventReleased, conv, &operatorID, "", "")
	return conv, nil
}

// SetStatus applies a manual primary status transition.
func (s *Service) SetStatus(ctx context.Context, conversationID uuid.UUID, status domain.Status) (domain.Conversation, error) {
	return s.store.MutateConversation(ctx, conversationID, func(c *domain.Conversation) error {
		return c.TransitionTo(status)
	})
}

func (s *Service) publish(ctx context.Context, name string, conv domain.Conversation, operatorID *uuid.UUID, trigger, outcome string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, Changed{
		BaseEvent:      events.NewBaseEvent(),
		Name:           name,
		ConversationID: conv.ID,
		OperatorID:     operatorID,
		Trigger:        trigger,
		Outcome:        outcome,
		Urgent:         conv.IsUrgent,
	})
}
