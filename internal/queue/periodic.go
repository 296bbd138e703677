package queue

import (
	"context"
	"fmt"
	"time"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/metrics"

	"github.com/hibiken/asynq"
)

// Periodic enqueues jobs on cron specs. Every tick becomes a regular task
// with its own id, so retries, dead-lettering and status lookups work as for
// any other job.
type Periodic struct {
	scheduler *asynq.Scheduler
	defs      map[string]Definition
	maxRetry  int
	retention time.Duration
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	opt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}
	retention := cfg.GetJobRetention()
	if retention <= 0 {
		retention = defaultRetention
	}
	policy := jobs.RetryPolicy{MaxRetries: cfg.GetJobMaxRetries(), Backoff: cfg.GetJobBackoff()}

	p := &Periodic{
		defs:      Definitions(cfg.GetQueueTimeouts()),
		maxRetry:  MaxRetry(policy),
		retention: retention,
		log:       log,
	}
	p.scheduler = asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location:        time.UTC,
		Logger:          asynqLogger{log: log},
		PostEnqueueFunc: p.afterEnqueue,
	})
	return p, nil
}

// Register adds a job of jobType that runs on spec. The payload is fixed at
// registration.
func (p *Periodic) Register(spec, jobType string, payload any) (string, error) {
	queue := ForJobType(jobType)
	def, ok := p.defs[queue]
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("unknown queue %q", queue))
	}
	job, err := jobs.New(jobType, payload, map[string]string{
		MetaQueue:    queue,
		MetaPeriodic: spec,
	})
	if err != nil {
		return "", err
	}
	task, err := NewTask(job)
	if err != nil {
		return "", err
	}

	opts := []asynq.Option{
		asynq.Queue(def.Name),
		asynq.MaxRetry(p.maxRetry),
		asynq.Retention(p.retention),
	}
	if def.Timeout > 0 {
		opts = append(opts, asynq.Timeout(def.Timeout))
	}
	entryID, err := p.scheduler.Register(spec, task, opts...)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, fmt.Sprintf("register %s on %q", jobType, spec), err)
	}
	return entryID, nil
}

func (p *Periodic) afterEnqueue(info *asynq.TaskInfo, err error) {
	if err != nil {
		p.log.Warn("periodic enqueue failed", "error", err)
		return
	}
	metrics.JobsEnqueued.WithLabelValues(info.Queue).Inc()
	p.log.Debug("periodic job enqueued", "jobId", info.ID, "jobType", info.Type, "queue", info.Queue)
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (p *Periodic) Run(ctx context.Context) error {
	if err := p.scheduler.Start(); err != nil {
		return fmt.Errorf("start periodic scheduler: %w", err)
	}
	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
