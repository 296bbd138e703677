package notification

import (
	"context"

	"chatflow_backend/internal/handoff"
	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/internal/notification/outbox"
	"chatflow_backend/internal/notification/sse"
	"chatflow_backend/platform/events"
	"chatflow_backend/platform/httpkit"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the outbox, its dispatcher and the operator event stream.
type Module struct {
	outbox     *outbox.Repository
	notifier   *Notifier
	dispatcher *Dispatcher
	stream     *sse.Service
	log        *logger.Logger
}

// NewModule builds the notification module. whatsapp and mailer are optional.
func NewModule(pool *pgxpool.Pool, operators OperatorLookup, whatsapp TextSender, mailer Mailer, bus events.Bus, log *logger.Logger) *Module {
	repo := outbox.New(pool)
	return &Module{
		outbox:     repo,
		notifier:   NewNotifier(repo, bus, log),
		dispatcher: NewDispatcher(repo, operators, whatsapp, mailer, log),
		stream:     sse.New(log),
		log:        log,
	}
}

func (m *Module) Name() string { return "notification" }

func (m *Module) Notifier() *Notifier { return m.notifier }

func (m *Module) Dispatcher() *Dispatcher { return m.dispatcher }

func (m *Module) Outbox() *outbox.Repository { return m.outbox }

// RegisterRoutes exposes the operator notification stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/notifications/stream", m.stream.Handler(httpkit.OperatorID))
}

// RegisterHandlers pushes notifications and handoff changes to connected operators.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(EventQueued, events.HandlerFunc(m.pushQueued))
	for _, name := range []string{handoff.EventAssigned, handoff.EventReleased, handoff.EventCompleted} {
		bus.Subscribe(name, events.HandlerFunc(m.pushHandoff))
	}
}

func (m *Module) pushQueued(_ context.Context, e events.Event) error {
	q, ok := e.(Queued)
	if !ok {
		return nil
	}
	conversationID, _ := uuid.Parse(stringField(q.Payload, "conversationId"))
	m.stream.Publish(q.OperatorID, sse.Event{Type: q.Kind, ConversationID: conversationID, Data: q.Payload})
	return nil
}

func (m *Module) pushHandoff(_ context.Context, e events.Event) error {
	changed, ok := e.(handoff.Changed)
	if !ok || changed.OperatorID == nil {
		return nil
	}
	m.stream.Publish(*changed.OperatorID, sse.Event{
		Type:           changed.Name,
		ConversationID: changed.ConversationID,
		Data:           map[string]any{"outcome": changed.Outcome, "urgent": changed.Urgent},
	})
	return nil
}

// Close drops open streams.
func (m *Module) Close() {
	m.stream.Close()
}

