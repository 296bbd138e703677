// Package webhook receives inbound WhatsApp messages from the gateway and
// hands them to the job pipeline.
package webhook

import (
	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/httpkit"
	"chatflow_backend/platform/logger"

	"golang.org/x/time/rate"
)

// Module is the inbound webhook module implementing http.Module.
type Module struct {
	handler *Handler
	limiter *httpkit.IPRateLimiter
	secret  string
}

// NewModule wires the webhook. ingestor may be nil when Redis is not configured.
func NewModule(cfg config.HTTPConfig, mediaBaseURL string, ingestor Ingestor, runner SyncRunner, validate jobs.StructValidator, log *logger.Logger) *Module {
	return &Module{
		handler: NewHandler(ingestor, runner, validate, mediaBaseURL, log),
		limiter: httpkit.NewIPRateLimiter(rate.Limit(50), 100, log),
		secret:  cfg.GetWebhookSecret(),
	}
}

func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts the gateway webhook (signature auth, no JWT).
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhook")
	group.Use(m.limiter.RateLimit(), SignatureMiddleware(m.secret))
	group.POST("/whatsapp", m.handler.HandleInbound)
}

var _ apphttp.Module = (*Module)(nil)
