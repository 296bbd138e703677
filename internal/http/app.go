// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"chatflow_backend/internal/queue"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// QueueInspector serves the queue and job status endpoints.
type QueueInspector interface {
	HealthCheck(ctx context.Context) bool
	GetQueueStats(ctx context.Context) queue.Report
	JobStatus(ctx context.Context, jobID string) (queue.Status, error)
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the router configuration (HTTP and JWT settings only).
	Config RouterConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health is used for readiness checks (database ping).
	Health HealthChecker
	// Queues reports broker state; nil when Redis is not configured.
	Queues QueueInspector
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
