package pipeline

import (
	"context"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/logger"
)

// IngestionExecutor validates a webhook message, drops redeliveries and hands
// it to AI processing.
type IngestionExecutor struct {
	dedupe   Deduper
	enqueuer ports.Enqueuer
	validate jobs.StructValidator
	log      *logger.Logger
}

func NewIngestionExecutor(dedupe Deduper, enqueuer ports.Enqueuer, validate jobs.StructValidator, log *logger.Logger) *IngestionExecutor {
	return &IngestionExecutor{dedupe: dedupe, enqueuer: enqueuer, validate: validate, log: log}
}

func (e *IngestionExecutor) Execute(ctx context.Context, job jobs.Job) jobs.Outcome {
	var p MessagePayload
	if err := job.Decode(&p, e.validate); err != nil {
		return jobs.Fatal("invalid ingestion payload", err)
	}
	p.Normalize()
	if _, err := p.Content(); err != nil {
		return jobs.Fatal("empty message", err)
	}

	claimed := false
	if p.ExternalID != "" && e.dedupe != nil {
		first, err := e.dedupe.FirstSeen(ctx, p.ExternalID)
		if err != nil {
			return jobs.Classify(err)
		}
		if !first {
			e.log.WithContext(ctx).Info("duplicate inbound message dropped", "externalId", p.ExternalID, "chatId", p.ChatID)
			return jobs.Success(map[string]any{"duplicate": true})
		}
		claimed = true
	}

	id, err := e.enqueuer.EnqueueAIProcessing(ctx, p)
	if err != nil {
		if claimed {
			if ferr := e.dedupe.Forget(ctx, p.ExternalID); ferr != nil {
				e.log.WithContext(ctx).Warn("failed to release inbound message id", "externalId", p.ExternalID, "error", ferr)
			}
		}
		return jobs.Classify(err)
	}
	return jobs.Success(map[string]any{"aiJobId": id})
}

// AIProcessingExecutor runs the orchestrator for one message.
type AIProcessingExecutor struct {
	orchestrator *Orchestrator
	validate     jobs.StructValidator
}

func NewAIProcessingExecutor(orchestrator *Orchestrator, validate jobs.StructValidator) *AIProcessingExecutor {
	return &AIProcessingExecutor{orchestrator: orchestrator, validate: validate}
}

func (e *AIProcessingExecutor) Execute(ctx context.Context, job jobs.Job) jobs.Outcome {
	var p MessagePayload
	if err := job.Decode(&p, e.validate); err != nil {
		return jobs.Fatal("invalid ai processing payload", err)
	}
	in, err := p.Inbound(job.Attempt)
	if err != nil {
		return jobs.Fatal("empty message", err)
	}
	return jobs.FromResult(e.orchestrator.ProcessInboundMessage(ctx, in))
}
