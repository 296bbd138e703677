package webhook

import (
	"context"
	"net/http"
	"time"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/httpkit"
	"chatflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

const syncTimeout = 3 * time.Minute

// Ingestor enqueues inbound messages.
type Ingestor interface {
	HealthCheck(ctx context.Context) bool
	EnqueueMessageProcessing(ctx context.Context, payload any) (string, error)
}

// SyncRunner runs a job in-process with retries.
type SyncRunner interface {
	Run(ctx context.Context, job jobs.Job) jobs.Result
}

// Handler receives gateway webhooks.
type Handler struct {
	ingestor     Ingestor
	runner       SyncRunner
	validate     jobs.StructValidator
	mediaBaseURL string
	log          *logger.Logger
}

func NewHandler(ingestor Ingestor, runner SyncRunner, validate jobs.StructValidator, mediaBaseURL string, log *logger.Logger) *Handler {
	return &Handler{ingestor: ingestor, runner: runner, validate: validate, mediaBaseURL: mediaBaseURL, log: log}
}

// HandleInbound queues an inbound message for ingestion. When the broker is
// down the message is processed before the request returns.
// POST /api/v1/webhook/whatsapp
func (h *Handler) HandleInbound(c *gin.Context) {
	var event InboundEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if reason := event.ignoreReason(); reason != "" {
		httpkit.OK(c, gin.H{"status": "ignored", "reason": reason})
		return
	}

	payload := event.MessagePayload(h.mediaBaseURL)
	payload.Normalize()
	if err := h.validate.Struct(payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation error", err.Error())
		return
	}
	if _, err := payload.Content(); err != nil {
		httpkit.OK(c, gin.H{"status": "ignored", "reason": "empty message"})
		return
	}

	ctx := c.Request.Context()
	log := h.log.WithContext(ctx)
	if h.ingestor != nil && h.ingestor.HealthCheck(ctx) {
		jobID, err := h.ingestor.EnqueueMessageProcessing(ctx, payload)
		if err == nil {
			httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued", "jobId": jobID})
			return
		}
		log.Warn("enqueue failed, processing synchronously", "chatId", payload.ChatID, "error", err)
	} else {
		log.Warn("queue unavailable, processing synchronously", "chatId", payload.ChatID)
	}

	// Without Redis there is no dedupe or ingestion step; the pipeline runs directly.
	job, err := jobs.New(jobs.TypeAIProcessing, payload, map[string]string{"mode": "sync"})
	if httpkit.HandleError(c, err) {
		return
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
	defer cancel()
	res := h.runner.Run(logger.ContextWithJobID(runCtx, job.ID), job)

	status := http.StatusOK
	if res.Status != jobs.StatusSuccess {
		status = http.StatusServiceUnavailable
	}
	httpkit.JSON(c, status, gin.H{"status": res.Status, "jobId": job.ID, "attempt": res.Attempt})
}
