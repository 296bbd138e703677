package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/metrics"

	"github.com/hibiken/asynq"
)

const deadLetterTimeout = 5 * time.Second

// retryError carries the runner's backoff to RetryDelayFunc.
type retryError struct {
	delay time.Duration
	err   error
}

func (e *retryError) Error() string {
	if e.err == nil {
		return "job will be retried"
	}
	return e.err.Error()
}

func (e *retryError) Unwrap() error { return e.err }

// Worker consumes every queue except the dead-letter queue and runs each task
// through the job Runner. Backoff is a delayed re-enqueue, not a sleep.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *jobs.Runner
	policy jobs.RetryPolicy
	log    *logger.Logger
}

// NewWorker builds the asynq server for the types registered in registry.
func NewWorker(cfg config.SchedulerConfig, runner *jobs.Runner, registry *jobs.Registry, log *logger.Logger) (*Worker, error) {
	opt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	w := &Worker{
		mux:    asynq.NewServeMux(),
		runner: runner,
		policy: runner.Policy(),
		log:    log,
	}

	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         consumedQueues(Definitions(cfg.GetQueueTimeouts())),
		RetryDelayFunc: w.retryDelay,
		ErrorHandler:   asynq.ErrorHandlerFunc(w.handleError),
		Logger:         asynqLogger{log: log},
	})

	for _, jobType := range registry.Types() {
		w.mux.HandleFunc(jobType, w.ProcessTask)
	}
	return w, nil
}

func consumedQueues(defs map[string]Definition) map[string]int {
	queues := make(map[string]int, len(defs))
	for name, def := range defs {
		if def.Priority > 0 {
			queues[name] = def.Priority
		}
	}
	return queues
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("queue worker stopped", "error", err)
	}
}

// ProcessTask runs one attempt of the job carried by task.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	job, err := ParseTask(task)
	if err != nil {
		w.log.Error("undecodable task archived", "taskType", task.Type(), "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if retried, ok := asynq.GetRetryCount(ctx); ok {
		job.Attempt = retried
	}
	// Periodic tasks share one envelope; the broker id identifies the run.
	if taskID, ok := asynq.GetTaskID(ctx); ok && taskID != job.ID && job.Metadata[MetaPeriodic] != "" {
		job.ID = taskID
	}

	res := w.runner.Attempt(ctx, job)

	switch res.Status {
	case jobs.StatusSuccess:
		w.writeResult(task, res)
		return nil
	case jobs.StatusRetry:
		return &retryError{delay: res.NextDelay, err: fmt.Errorf("attempt %d of job %s: %s", res.Attempt, job.ID, res.Reason)}
	default:
		if res.DeadLetterErr != nil {
			w.log.Error("dead-letter sink failed; task kept as archived", "jobId", job.ID, "error", res.DeadLetterErr)
		}
		return fmt.Errorf("%s: %w", res.Reason, asynq.SkipRetry)
	}
}

func (w *Worker) writeResult(task *asynq.Task, res jobs.Result) {
	rw := task.ResultWriter()
	if rw == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"status":   res.Status,
		"attempt":  res.Attempt,
		"value":    res.Value,
		"duration": res.Duration.String(),
	})
	if err != nil {
		return
	}
	if _, err := rw.Write(data); err != nil {
		w.log.Warn("failed to write task result", "jobId", res.Job.ID, "error", err)
	}
}

// retryDelay returns the runner's backoff; n is the number of retries so far.
func (w *Worker) retryDelay(n int, err error, _ *asynq.Task) time.Duration {
	var re *retryError
	if errors.As(err, &re) && re.delay > 0 {
		return re.delay
	}
	return w.policy.Delay(n + 1)
}

// handleError runs for every failed attempt. Failures the runner never saw,
// such as a handler that outlived the queue timeout, are dead-lettered here
// once the broker is about to archive the task.
func (w *Worker) handleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	w.log.Warn("task failed", "taskType", task.Type(), "retried", retried, "maxRetry", maxRetry, "error", err)
	w.afterFailure(ctx, task, err, retried, maxRetry)
}

func (w *Worker) afterFailure(ctx context.Context, task *asynq.Task, err error, retried, maxRetry int) {
	if errors.Is(err, asynq.SkipRetry) || retried < maxRetry {
		return
	}
	w.deadLetterArchived(ctx, task, err, retried)
}

func (w *Worker) deadLetterArchived(ctx context.Context, task *asynq.Task, cause error, retried int) {
	sink := w.runner.Sink()
	if sink == nil {
		return
	}
	job, err := ParseTask(task)
	if err != nil {
		w.log.Error("undecodable task archived", "taskType", task.Type(), "error", err)
		return
	}
	if taskID, ok := asynq.GetTaskID(ctx); ok && job.Metadata[MetaPeriodic] != "" {
		job.ID = taskID
	}
	job.Attempt = retried + 1
	completed := time.Now().UTC()
	job.CompletedAt = &completed

	reason := fmt.Sprintf("retries exhausted after %d attempts: %v", job.Attempt, cause)
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()
	if err := sink.DeadLetter(dctx, job, reason); err != nil {
		w.log.Error("dead-letter sink failed; task kept as archived", "jobId", job.ID, "error", err)
		return
	}
	metrics.JobsDeadLettered.WithLabelValues(job.Type).Inc()
	w.log.Error("job dead-lettered", "jobId", job.ID, "jobType", job.Type, "attempt", job.Attempt, "reason", reason)
}

type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) {
	l.log.Error(fmt.Sprint(args...))
	os.Exit(1)
}
