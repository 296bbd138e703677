package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/metrics"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const defaultRetention = 24 * time.Hour

// Status is the externally visible state of a job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusScheduled    Status = "scheduled"
	StatusActive       Status = "active"
	StatusRetry        Status = "retry"
	StatusSuccess      Status = "success"
	StatusDeadLettered Status = "dead_lettered"
	StatusUnknown      Status = "unknown"
)

// Stats is a snapshot of one queue.
type Stats struct {
	Queue   string `json:"queue"`
	Depth   int    `json:"depth"`
	Active  int    `json:"active"`
	Workers int    `json:"workers"`
	Failed  int    `json:"failed"`
	Paused  bool   `json:"paused"`
}

// Report is the payload of GetQueueStats.
type Report struct {
	Healthy   bool      `json:"healthy"`
	Queues    []Stats   `json:"queues"`
	CheckedAt time.Time `json:"checkedAt"`
}

// DeadLetterEntry is one job waiting in the dead-letter queue.
type DeadLetterEntry struct {
	TaskID         string    `json:"taskId"`
	Job            jobs.Job  `json:"job"`
	Reason         string    `json:"reason"`
	OriginQueue    string    `json:"originQueue"`
	DeadLetteredAt time.Time `json:"deadLetteredAt"`
}

// Manager enqueues and inspects jobs. It implements jobs.DeadLetterSink.
type Manager struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     redis.UniversalClient
	defs      map[string]Definition
	maxRetry  int
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewManager connects to the broker described by cfg.
func NewManager(cfg config.SchedulerConfig, rdb redis.UniversalClient, log *logger.Logger) (*Manager, error) {
	opt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}
	policy := jobs.RetryPolicy{MaxRetries: cfg.GetJobMaxRetries(), Backoff: cfg.GetJobBackoff()}
	return newManager(opt, rdb, Definitions(cfg.GetQueueTimeouts()), policy, cfg.GetJobRetention(), log), nil
}

func newManager(opt asynq.RedisConnOpt, rdb redis.UniversalClient, defs map[string]Definition, policy jobs.RetryPolicy, retention time.Duration, log *logger.Logger) *Manager {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Manager{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		redis:     rdb,
		defs:      defs,
		maxRetry:  MaxRetry(policy),
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// MaxRetry converts the job retry budget to asynq's retry count: the first
// attempt is not a retry.
func MaxRetry(policy jobs.RetryPolicy) int {
	return policy.Limit() - 1
}

func (m *Manager) maxRetryFor(job jobs.Job) int {
	if job.MaxRetries > 0 {
		return job.MaxRetries - 1
	}
	return m.maxRetry
}

// Close releases broker connections.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	return errors.Join(m.client.Close(), m.inspector.Close())
}

func (m *Manager) definition(queue string) (Definition, error) {
	def, ok := m.defs[queue]
	if !ok {
		return Definition{}, apperr.Validation(fmt.Sprintf("unknown queue %q", queue))
	}
	return def, nil
}

// Enqueue places job on queue for immediate processing.
func (m *Manager) Enqueue(ctx context.Context, queue string, job jobs.Job) (string, error) {
	return m.enqueue(ctx, queue, job)
}

// EnqueueAt places job on queue to be processed at when.
func (m *Manager) EnqueueAt(ctx context.Context, queue string, job jobs.Job, when time.Time) (string, error) {
	return m.enqueue(ctx, queue, job, asynq.ProcessAt(when))
}

func (m *Manager) enqueue(ctx context.Context, queue string, job jobs.Job, extra ...asynq.Option) (string, error) {
	def, err := m.definition(queue)
	if err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	job.Metadata[MetaQueue] = queue

	task, err := NewTask(job)
	if err != nil {
		return "", err
	}

	opts := []asynq.Option{
		asynq.Queue(def.Name),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(m.maxRetryFor(job)),
		asynq.Retention(m.retention),
	}
	if def.Timeout > 0 {
		opts = append(opts, asynq.Timeout(def.Timeout))
	}
	opts = append(opts, extra...)

	info, err := m.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", apperr.Conflict(fmt.Sprintf("job %s already enqueued", job.ID))
		}
		return "", apperr.Unavailable("enqueue job", err)
	}

	metrics.JobsEnqueued.WithLabelValues(queue).Inc()
	m.log.Debug("job enqueued", "jobId", info.ID, "jobType", job.Type, "queue", queue)
	return info.ID, nil
}

// EnqueueMessageProcessing queues inbound message ingestion.
func (m *Manager) EnqueueMessageProcessing(ctx context.Context, payload any) (string, error) {
	return m.enqueueNew(ctx, Ingestion, jobs.TypeMessageIngestion, payload)
}

// EnqueueAIProcessing queues the conversation pipeline for one message.
func (m *Manager) EnqueueAIProcessing(ctx context.Context, payload any) (string, error) {
	return m.enqueueNew(ctx, AIProcessing, jobs.TypeAIProcessing, payload)
}

// EnqueueEscalation queues a handoff request.
func (m *Manager) EnqueueEscalation(ctx context.Context, payload any) (string, error) {
	return m.enqueueNew(ctx, Escalation, jobs.TypeEscalation, payload)
}

func (m *Manager) enqueueNew(ctx context.Context, queue, jobType string, payload any) (string, error) {
	job, err := jobs.New(jobType, payload, traceMetadata(ctx))
	if err != nil {
		return "", err
	}
	return m.Enqueue(ctx, queue, job)
}

func traceMetadata(ctx context.Context) map[string]string {
	meta := map[string]string{}
	if id, ok := ctx.Value(logger.RequestIDKey).(string); ok && id != "" {
		meta["requestId"] = id
	}
	if id, ok := ctx.Value(logger.TraceIDKey).(string); ok && id != "" {
		meta["traceId"] = id
	}
	return meta
}

// HealthCheck pings the broker. It never panics and never returns an error;
// callers decide how to degrade.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	if m == nil || m.redis == nil {
		return false
	}
	if err := m.redis.Ping(ctx).Err(); err != nil {
		m.log.Warn("queue broker unreachable", "error", err)
		return false
	}
	return true
}

// Stats reports depth, activity and failures per queue.
func (m *Manager) Stats(ctx context.Context) ([]Stats, error) {
	workers, err := m.workersPerQueue()
	if err != nil {
		return nil, apperr.Unavailable("list queue servers", err)
	}

	names := Names()
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := Stats{Queue: name, Workers: workers[name]}
		info, err := m.inspector.GetQueueInfo(name)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
		case err != nil:
			return nil, apperr.Unavailable(fmt.Sprintf("inspect queue %s", name), err)
		default:
			st.Depth = info.Pending + info.Scheduled + info.Retry
			st.Active = info.Active
			st.Failed = info.Archived
			st.Paused = info.Paused
			if name == DeadLetter {
				st.Failed = info.Size
			}
		}
		metrics.QueueDepth.WithLabelValues(name).Set(float64(st.Depth))
		out = append(out, st)
	}
	return out, nil
}

func (m *Manager) workersPerQueue() (map[string]int, error) {
	servers, err := m.inspector.Servers()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, srv := range servers {
		for name := range srv.Queues {
			counts[name] += srv.Concurrency
		}
	}
	return counts, nil
}

// GetQueueStats combines health and per-queue stats. An unreachable broker
// yields an unhealthy report rather than an error.
func (m *Manager) GetQueueStats(ctx context.Context) Report {
	report := Report{CheckedAt: m.now().UTC(), Healthy: m.HealthCheck(ctx)}
	if !report.Healthy {
		return report
	}
	stats, err := m.Stats(ctx)
	if err != nil {
		m.log.Warn("queue stats unavailable", "error", err)
		report.Healthy = false
		return report
	}
	report.Queues = stats
	return report
}

// JobStatus looks the job up across all queues.
func (m *Manager) JobStatus(ctx context.Context, jobID string) (Status, error) {
	if jobID == "" {
		return StatusUnknown, apperr.Validation("job id is required")
	}
	// The dead-letter copy wins over the archived original.
	order := append([]string{DeadLetter}, Ingestion, AIProcessing, Escalation, Scheduled)
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return StatusUnknown, err
		}
		info, err := m.inspector.GetTaskInfo(name, jobID)
		if errors.Is(err, asynq.ErrQueueNotFound) || errors.Is(err, asynq.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return StatusUnknown, apperr.Unavailable("inspect job", err)
		}
		if name == DeadLetter {
			return StatusDeadLettered, nil
		}
		return statusFromState(info.State), nil
	}
	return StatusUnknown, nil
}

func statusFromState(state asynq.TaskState) Status {
	switch state {
	case asynq.TaskStatePending, asynq.TaskStateAggregating:
		return StatusPending
	case asynq.TaskStateScheduled:
		return StatusScheduled
	case asynq.TaskStateActive:
		return StatusActive
	case asynq.TaskStateRetry:
		return StatusRetry
	case asynq.TaskStateCompleted:
		return StatusSuccess
	case asynq.TaskStateArchived:
		return StatusDeadLettered
	default:
		return StatusUnknown
	}
}

// DeadLetter parks job on the dead-letter queue. The queue has no consumer, so
// entries stay until replayed or deleted.
func (m *Manager) DeadLetter(ctx context.Context, job jobs.Job, reason string) error {
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	origin := job.Metadata[MetaQueue]
	if origin == "" {
		origin = ForJobType(job.Type)
	}
	job.Metadata[MetaOriginQueue] = origin
	job.Metadata[MetaDeadLetterReason] = reason
	job.Metadata[MetaDeadLetteredAt] = m.now().UTC().Format(time.RFC3339)

	task, err := NewTask(job)
	if err != nil {
		return err
	}
	_, err = m.client.EnqueueContext(ctx, task, asynq.Queue(DeadLetter), asynq.TaskID(job.ID), asynq.MaxRetry(0))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return apperr.Unavailable("enqueue dead letter", err)
	}
	metrics.JobsEnqueued.WithLabelValues(DeadLetter).Inc()
	return nil
}

// ListDeadLetters returns up to n dead-lettered jobs, oldest first.
func (m *Manager) ListDeadLetters(ctx context.Context, n int) ([]DeadLetterEntry, error) {
	if n <= 0 {
		n = 50
	}
	tasks, err := m.inspector.ListPendingTasks(DeadLetter, asynq.PageSize(n))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("list dead letters", err)
	}

	entries := make([]DeadLetterEntry, 0, len(tasks))
	for _, info := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := jobs.Unmarshal(info.Payload)
		if err != nil {
			m.log.Warn("skipping undecodable dead letter", "taskId", info.ID, "error", err)
			continue
		}
		entries = append(entries, deadLetterEntry(info.ID, job))
	}
	return entries, nil
}

func deadLetterEntry(taskID string, job jobs.Job) DeadLetterEntry {
	entry := DeadLetterEntry{
		TaskID:      taskID,
		Job:         job,
		Reason:      job.Meta(MetaDeadLetterReason),
		OriginQueue: job.Meta(MetaOriginQueue),
	}
	if ts, err := time.Parse(time.RFC3339, job.Meta(MetaDeadLetteredAt)); err == nil {
		entry.DeadLetteredAt = ts
	}
	return entry
}

// ReplayDeadLetter re-enqueues a dead-lettered job on its origin queue with a
// fresh id and attempt counter, then removes it from the dead-letter queue.
func (m *Manager) ReplayDeadLetter(ctx context.Context, taskID string) (string, error) {
	info, err := m.inspector.GetTaskInfo(DeadLetter, taskID)
	if errors.Is(err, asynq.ErrQueueNotFound) || errors.Is(err, asynq.ErrTaskNotFound) {
		return "", apperr.NotFound(fmt.Sprintf("dead letter %s not found", taskID))
	}
	if err != nil {
		return "", apperr.Unavailable("inspect dead letter", err)
	}

	job, err := jobs.Unmarshal(info.Payload)
	if err != nil {
		return "", err
	}
	origin := job.Meta(MetaOriginQueue)
	if _, err := m.definition(origin); err != nil || origin == DeadLetter {
		origin = ForJobType(job.Type)
	}

	replay := job
	replay.ID = uuid.NewString()
	replay.Attempt = 0
	replay.StartedAt = nil
	replay.CompletedAt = nil
	replay.Metadata = make(map[string]string, len(job.Metadata))
	for k, v := range job.Metadata {
		replay.Metadata[k] = v
	}
	delete(replay.Metadata, MetaDeadLetterReason)
	delete(replay.Metadata, MetaDeadLetteredAt)
	delete(replay.Metadata, MetaOriginQueue)
	replay.Metadata[MetaReplayOf] = job.ID

	newID, err := m.Enqueue(ctx, origin, replay)
	if err != nil {
		return "", err
	}
	if err := m.inspector.DeleteTask(DeadLetter, taskID); err != nil {
		m.log.Warn("replayed dead letter could not be removed", "taskId", taskID, "replayId", newID, "error", err)
	}
	m.log.Info("dead letter replayed", "taskId", taskID, "replayId", newID, "queue", origin)
	return newID, nil
}
