// Package queue owns the named work queues: enqueueing jobs onto asynq,
// inspecting queue state, dead-lettering and the worker server.
package queue

import (
	"time"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/config"
)

// Queue names. The set is fixed; anything else is a configuration error.
const (
	Ingestion    = "ingestion"
	AIProcessing = "ai_processing"
	Escalation   = "escalation"
	Scheduled    = "scheduled"
	DeadLetter   = "dead_letter"
)

// Definition describes one queue.
type Definition struct {
	Name     string
	Timeout  time.Duration // zero means untimed
	Priority int           // zero means the worker never consumes it
}

// Definitions returns the queue set with timeouts taken from cfg.
func Definitions(timeouts config.QueueTimeouts) map[string]Definition {
	return map[string]Definition{
		Ingestion:    {Name: Ingestion, Timeout: orDefault(timeouts.Ingestion, 10*time.Second), Priority: 6},
		AIProcessing: {Name: AIProcessing, Timeout: orDefault(timeouts.AIProcessing, 60*time.Second), Priority: 3},
		Escalation:   {Name: Escalation, Timeout: orDefault(timeouts.Escalation, 30*time.Second), Priority: 2},
		Scheduled:    {Name: Scheduled, Timeout: orDefault(timeouts.Scheduled, 60*time.Second), Priority: 1},
		DeadLetter:   {Name: DeadLetter},
	}
}

// Names lists the queues in a stable order.
func Names() []string {
	return []string{Ingestion, AIProcessing, Escalation, Scheduled, DeadLetter}
}

// ForJobType returns the queue a job type runs on.
func ForJobType(jobType string) string {
	switch jobType {
	case jobs.TypeMessageIngestion:
		return Ingestion
	case jobs.TypeAIProcessing:
		return AIProcessing
	case jobs.TypeEscalation:
		return Escalation
	default:
		return Scheduled
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
