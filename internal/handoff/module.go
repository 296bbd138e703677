package handoff

import (
	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/platform/events"
	"chatflow_backend/platform/logger"
)

// Module exposes the operator handoff actions.
type Module struct {
	service *Service
	handler *HTTPHandler
}

func NewModule(store Store, bus events.Bus, log *logger.Logger) *Module {
	svc := NewService(store, bus, log)
	return &Module{service: svc, handler: NewHTTPHandler(svc)}
}

func (m *Module) Name() string { return "handoff" }

func (m *Module) Service() *Service { return m.service }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/conversations"))
}
