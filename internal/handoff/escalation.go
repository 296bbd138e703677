package handoff

import (
	"context"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"
)

// Notification kinds sent to operators.
const (
	NotifyHandoff = "conversation.handoff"
	NotifyUrgent  = "conversation.urgent"
)

// EscalationExecutor requests a handoff, reserves it for the least loaded
// operator and notifies them.
type EscalationExecutor struct {
	service  *Service
	notifier ports.Notifier
	validate jobs.StructValidator
	log      *logger.Logger
}

func NewEscalationExecutor(service *Service, notifier ports.Notifier, validate jobs.StructValidator, log *logger.Logger) *EscalationExecutor {
	return &EscalationExecutor{service: service, notifier: notifier, validate: validate, log: log}
}

func (e *EscalationExecutor) Execute(ctx context.Context, job jobs.Job) jobs.Outcome {
	var req ports.EscalationRequest
	if err := job.Decode(&req, e.validate); err != nil {
		return jobs.Fatal("invalid escalation payload", err)
	}
	value, err := e.escalate(ctx, req)
	if err != nil {
		return jobs.Classify(err)
	}
	return jobs.Success(value)
}

// Escalate runs req without going through the queue.
func (e *EscalationExecutor) Escalate(ctx context.Context, req ports.EscalationRequest) error {
	_, err := e.escalate(ctx, req)
	return err
}

func (e *EscalationExecutor) escalate(ctx context.Context, req ports.EscalationRequest) (map[string]any, error) {
	conv, err := e.service.RequestHandoff(ctx, req.ConversationID, req.Trigger)
	if err != nil {
		return nil, err
	}
	if conv.Handoff != domain.HandoffPending {
		return map[string]any{"skipped": "conversation already handled by " + string(conv.Handoff)}, nil
	}

	var op domain.Operator
	if conv.AssignedOperatorID != nil {
		op, err = e.service.store.GetOperator(ctx, *conv.AssignedOperatorID)
	} else {
		op, err = e.service.store.LeastLoadedOperator(ctx)
	}
	if apperr.Is(err, apperr.KindNotFound) {
		// The conversation stays pending; an operator picks it from the queue.
		e.log.WithContext(ctx).Warn("no active operator for handoff", "conversationId", conv.ID)
		return map[string]any{"operatorId": nil}, nil
	}
	if err != nil {
		return nil, err
	}

	if conv.AssignedOperatorID == nil {
		conv, err = e.service.Reserve(ctx, conv.ID, op.ID)
		if err != nil {
			return nil, err
		}
	}

	kind := NotifyHandoff
	if req.Urgent || conv.IsUrgent {
		kind = NotifyUrgent
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, op.ID, kind, map[string]any{
			"conversationId": conv.ID.String(),
			"contact":        conv.ContactName,
			"phone":          conv.ContactPhone,
			"trigger":        req.Trigger,
		})
	}
	return map[string]any{"operatorId": op.ID.String(), "notification": kind}, nil
}
