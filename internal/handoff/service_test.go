package handoff

import (
	"context"
	"reflect"
	"testing"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestService() (*Service, *memStore, *syncBus) {
	store := newMemStore()
	bus := &syncBus{}
	return NewService(store, bus, logger.Nop()), store, bus
}

func TestHandoffLifecycle(t *testing.T) {
	svc, store, bus := newTestService()
	conv := botConversation()
	store.addConversation(conv)
	op := activeOperator(0)
	store.addOperator(op)
	ctx := context.Background()

	got, err := svc.RequestHandoff(ctx, conv.ID, "human_request")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got.Handoff != domain.HandoffPending || got.Status != domain.StatusWaitingSecretary {
		t.Fatalf("unexpected state after request: %s/%s", got.Status, got.Handoff)
	}

	got, err = svc.Assign(ctx, conv.ID, op.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Handoff != domain.HandoffActiveHuman || got.Status != domain.StatusTransferred {
		t.Fatalf("unexpected state after assign: %s/%s", got.Status, got.Handoff)
	}

	got, err = svc.Complete(ctx, conv.ID, op.ID, " booked a visit ")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != domain.StatusClosed {
		t.Fatalf("expected CLOSED, got %s", got.Status)
	}

	want := []string{EventRequested, EventAssigned, EventCompleted}
	if names := bus.names(); !reflect.DeepEqual(names, want) {
		t.Fatalf("expected events %v, got %v", want, names)
	}
	if bus.events[2].Outcome != "booked a visit" {
		t.Fatalf("expected trimmed outcome, got %q", bus.events[2].Outcome)
	}
}

func TestRequestHandoffIsIdempotent(t *testing.T) {
	svc, store, bus := newTestService()
	conv := botConversation()
	store.addConversation(conv)

	for i := 0; i < 2; i++ {
		if _, err := svc.RequestHandoff(context.Background(), conv.ID, "urgency"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if names := bus.names(); len(names) != 1 {
		t.Fatalf("expected a single requested event, got %v", names)
	}
}

func TestOnlyAssignedOperatorCanComplete(t *testing.T) {
	svc, store, _ := newTestService()
	conv := botConversation()
	store.addConversation(conv)
	a, b := activeOperator(0), activeOperator(0)
	store.addOperator(a)
	store.addOperator(b)
	ctx := context.Background()

	if _, err := svc.RequestHandoff(ctx, conv.ID, "manual"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Assign(ctx, conv.ID, a.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	_, err := svc.Complete(ctx, conv.ID, b.ID, "")
	if !apperr.Is(err, apperr.KindBusinessRule) {
		t.Fatalf("expected business rule error, got %v", err)
	}
	stored, _ := store.GetConversation(ctx, conv.ID)
	if stored.AssignedOperatorID == nil || *stored.AssignedOperatorID != a.ID {
		t.Fatalf("expected assignment to stay with operator A")
	}
	if stored.Handoff != domain.HandoffActiveHuman {
		t.Fatalf("expected ACTIVE_HUMAN, got %s", stored.Handoff)
	}
}

func TestReleaseReturnsConversationToBot(t *testing.T) {
	svc, store, _ := newTestService()
	conv := botConversation()
	store.addConversation(conv)
	op := activeOperator(0)
	store.addOperator(op)
	ctx := context.Background()

	_, _ = svc.RequestHandoff(ctx, conv.ID, "manual")
	_, _ = svc.Assign(ctx, conv.ID, op.ID)
	got, err := svc.Release(ctx, conv.ID, op.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if got.Handoff != domain.HandoffActiveBot || got.AssignedOperatorID != nil {
		t.Fatalf("expected bot ownership, got %s with operator %v", got.Handoff, got.AssignedOperatorID)
	}
	if got.HumanOwned() {
		t.Fatalf("released conversation must not be human owned")
	}
}

func TestAssignRejectsInactiveOperator(t *testing.T) {
	svc, store, _ := newTestService()
	conv := botConversation()
	store.addConversation(conv)
	op := activeOperator(0)
	op.IsActive = false
	store.addOperator(op)
	ctx := context.Background()

	_, _ = svc.RequestHandoff(ctx, conv.ID, "manual")
	if _, err := svc.Assign(ctx, conv.ID, op.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAssignRespectsReservation(t *testing.T) {
	svc, store, _ := newTestService()
	conv := botConversation()
	store.addConversation(conv)
	a, b := activeOperator(0), activeOperator(0)
	store.addOperator(a)
	store.addOperator(b)
	ctx := context.Background()

	_, _ = svc.RequestHandoff(ctx, conv.ID, "manual")
	if _, err := svc.Reserve(ctx, conv.ID, a.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.Assign(ctx, conv.ID, b.ID); !apperr.Is(err, apperr.KindBusinessRule) {
		t.Fatalf("expected reservation to block operator B, got %v", err)
	}
	if _, err := svc.Assign(ctx, conv.ID, a.ID); err != nil {
		t.Fatalf("reserved operator should be able to accept: %v", err)
	}
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	svc, store, _ := newTestService()
	conv := botConversation()
	conv.Status = domain.StatusClosed
	store.addConversation(conv)

	if _, err := svc.SetStatus(context.Background(), conv.ID, domain.StatusTransferred); !apperr.Is(err, apperr.KindBusinessRule) {
		t.Fatalf("expected business rule error, got %v", err)
	}
}
