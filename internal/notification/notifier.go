// Package notification alerts operators about conversations that need them.
// Alerts are written to an outbox and delivered by a scheduled job over
// WhatsApp and e-mail; connected dashboards get them immediately over SSE.
package notification

import (
	"context"
	"time"

	"chatflow_backend/internal/notification/outbox"
	"chatflow_backend/platform/events"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

// EventQueued is published for every accepted notification.
const EventQueued = "notification.queued"

// Queued carries a notification to in-process subscribers.
type Queued struct {
	events.BaseEvent
	OutboxID   uuid.UUID
	OperatorID uuid.UUID
	Kind       string
	Payload    map[string]any
}

func (Queued) EventName() string { return EventQueued }

// OutboxWriter stores notifications for delivery.
type OutboxWriter interface {
	Insert(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error)
}

// Notifier implements the pipeline's operator notification sink. It never
// fails the caller: storage problems are logged.
type Notifier struct {
	outbox OutboxWriter
	bus    events.Bus
	log    *logger.Logger
}

func NewNotifier(out OutboxWriter, bus events.Bus, log *logger.Logger) *Notifier {
	return &Notifier{outbox: out, bus: bus, log: log}
}

func (n *Notifier) Notify(ctx context.Context, operatorID uuid.UUID, kind string, payload map[string]any) {
	id, err := n.outbox.Insert(ctx, outbox.InsertParams{
		OperatorID: operatorID,
		Kind:       kind,
		Payload:    payload,
		RunAt:      time.Now().UTC(),
	})
	if err != nil {
		n.log.WithContext(ctx).Error("notification not stored", "operatorId", operatorID, "kind", kind, "error", err)
	}
	if n.bus != nil {
		n.bus.Publish(ctx, Queued{
			BaseEvent:  events.NewBaseEvent(),
			OutboxID:   id,
			OperatorID: operatorID,
			Kind:       kind,
			Payload:    payload,
		})
	}
}
