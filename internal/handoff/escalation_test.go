package handoff

import (
	"context"
	"testing"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/validator"

	"github.com/google/uuid"
)

func escalationJob(t *testing.T, req ports.EscalationRequest) jobs.Job {
	t.Helper()
	job, err := jobs.New(jobs.TypeEscalation, req, nil)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

func newTestEscalation() (*EscalationExecutor, *memStore, *recordingNotifier) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, &syncBus{}, logger.Nop())
	return NewEscalationExecutor(svc, notifier, validator.New(), logger.Nop()), store, notifier
}

func TestUrgentEscalationNotifiesLeastLoadedOperator(t *testing.T) {
	exec, store, notifier := newTestEscalation()
	conv := botConversation()
	conv.IsUrgent = true
	store.addConversation(conv)
	busy, idle := activeOperator(5), activeOperator(1)
	store.addOperator(busy)
	store.addOperator(idle)

	out := exec.Execute(context.Background(), escalationJob(t, ports.EscalationRequest{
		ConversationID: conv.ID, Trigger: ports.TriggerUrgency, Urgent: true,
	}))
	if out.Kind() != jobs.OutcomeSuccess {
		t.Fatalf("expected success, got %s", out)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.sent))
	}
	sent := notifier.sent[0]
	if sent.operatorID != idle.ID || sent.kind != NotifyUrgent {
		t.Fatalf("unexpected notification %+v", sent)
	}

	stored, _ := store.GetConversation(context.Background(), conv.ID)
	if stored.Handoff != domain.HandoffPending {
		t.Fatalf("expected PENDING_HANDOFF, got %s", stored.Handoff)
	}
	if stored.AssignedOperatorID == nil || *stored.AssignedOperatorID != idle.ID {
		t.Fatalf("expected reservation for the idle operator")
	}
}

func TestEscalationWithoutOperatorStaysPending(t *testing.T) {
	exec, store, notifier := newTestEscalation()
	conv := botConversation()
	store.addConversation(conv)

	out := exec.Execute(context.Background(), escalationJob(t, ports.EscalationRequest{
		ConversationID: conv.ID, Trigger: ports.TriggerScoreThreshold,
	}))
	if out.Kind() != jobs.OutcomeSuccess {
		t.Fatalf("expected success, got %s", out)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("expected no notification")
	}
	stored, _ := store.GetConversation(context.Background(), conv.ID)
	if stored.Handoff != domain.HandoffPending {
		t.Fatalf("expected PENDING_HANDOFF, got %s", stored.Handoff)
	}
}

func TestEscalationSkipsHumanOwnedConversation(t *testing.T) {
	exec, store, notifier := newTestEscalation()
	conv := botConversation()
	op := activeOperator(0)
	conv.Handoff = domain.HandoffActiveHuman
	conv.Status = domain.StatusTransferred
	conv.AssignedOperatorID = &op.ID
	store.addConversation(conv)
	store.addOperator(op)

	out := exec.Execute(context.Background(), escalationJob(t, ports.EscalationRequest{
		ConversationID: conv.ID, Trigger: ports.TriggerHumanRequest,
	}))
	if out.Kind() != jobs.OutcomeSuccess {
		t.Fatalf("expected success, got %s", out)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("expected no notification for an owned conversation")
	}
}

func TestEscalationRedeliveryNotifiesReservedOperator(t *testing.T) {
	exec, store, notifier := newTestEscalation()
	conv := botConversation()
	reserved, other := activeOperator(3), activeOperator(0)
	conv.Handoff = domain.HandoffPending
	conv.Status = domain.StatusWaitingSecretary
	conv.AssignedOperatorID = &reserved.ID
	store.addConversation(conv)
	store.addOperator(reserved)
	store.addOperator(other)

	out := exec.Execute(context.Background(), escalationJob(t, ports.EscalationRequest{
		ConversationID: conv.ID, Trigger: ports.TriggerBotConfusion,
	}))
	if out.Kind() != jobs.OutcomeSuccess {
		t.Fatalf("expected success, got %s", out)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].operatorID != reserved.ID || notifier.sent[0].kind != NotifyHandoff {
		t.Fatalf("expected handoff notification to the reserved operator, got %+v", notifier.sent)
	}
}

func TestEscalationOutcomes(t *testing.T) {
	exec, _, _ := newTestEscalation()

	out := exec.Execute(context.Background(), escalationJob(t, ports.EscalationRequest{Trigger: ports.TriggerManual}))
	if out.Kind() != jobs.OutcomeFatal {
		t.Fatalf("missing conversation id should be fatal, got %s", out)
	}

	out = exec.Execute(context.Background(), escalationJob(t, ports.EscalationRequest{
		ConversationID: uuid.New(), Trigger: ports.TriggerManual,
	}))
	if out.Kind() != jobs.OutcomeFatal {
		t.Fatalf("unknown conversation should be fatal, got %s", out)
	}
}

func TestInlineEscalationReservesAndNotifies(t *testing.T) {
	exec, store, notifier := newTestEscalation()
	conv := botConversation()
	conv.IsUrgent = true
	store.addConversation(conv)
	op := activeOperator(0)
	store.addOperator(op)

	var escalator ports.Escalator = exec
	err := escalator.Escalate(context.Background(), ports.EscalationRequest{
		ConversationID: conv.ID, Trigger: ports.TriggerUrgency, Urgent: true,
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].operatorID != op.ID || notifier.sent[0].kind != NotifyUrgent {
		t.Fatalf("expected urgent notification to %s, got %+v", op.ID, notifier.sent)
	}

	err = escalator.Escalate(context.Background(), ports.EscalationRequest{ConversationID: uuid.New(), Trigger: ports.TriggerUrgency})
	if err == nil {
		t.Fatalf("expected an error for an unknown conversation")
	}
}
