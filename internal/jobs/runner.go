package jobs

import (
	"context"
	"fmt"
	"time"

	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/metrics"
)

// Status is the terminal or intermediate state reported for a job.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusRetry        Status = "retry"
	StatusDeadLettered Status = "dead_lettered"
)

// Result describes what happened to a job after one or more attempts.
type Result struct {
	Job       Job
	Status    Status
	Attempt   int
	Value     any
	Reason    string
	Err       error
	NextDelay time.Duration
	Duration  time.Duration

	// DeadLetterErr is set when a terminal job could not be handed to the sink.
	DeadLetterErr error
}

// DeadLetterSink receives every job that failed fatally or ran out of retries.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, job Job, reason string) error
}

// deadLetterTimeout bounds the dead-letter write. It runs detached from the
// attempt's context, which has often expired by then.
const deadLetterTimeout = 5 * time.Second

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner executes jobs through their registered executor, classifies the
// outcome and applies the retry policy.
type Runner struct {
	registry *Registry
	policy   RetryPolicy
	dlq      DeadLetterSink
	log      *logger.Logger
	sleep    Sleeper
	now      func() time.Time
}

func NewRunner(registry *Registry, policy RetryPolicy, dlq DeadLetterSink, log *logger.Logger) *Runner {
	return &Runner{
		registry: registry,
		policy:   policy,
		dlq:      dlq,
		log:      log,
		sleep:    contextSleep,
		now:      time.Now,
	}
}

// SetSleeper replaces the backoff wait. Tests use it to observe delays.
func (r *Runner) SetSleeper(s Sleeper) {
	if s != nil {
		r.sleep = s
	}
}

// Sink returns the dead-letter destination, nil when none is configured.
func (r *Runner) Sink() DeadLetterSink {
	return r.dlq
}

// Policy returns the retry policy in use.
func (r *Runner) Policy() RetryPolicy {
	return r.policy
}

// Run executes the job until it succeeds, fails fatally or exhausts its retries,
// sleeping between attempts. It is used when no broker is available to
// reschedule the job.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	for {
		res := r.Attempt(ctx, job)
		if res.Status != StatusRetry {
			return res
		}
		job = res.Job
		if err := r.sleep(ctx, res.NextDelay); err != nil {
			res.Err = fmt.Errorf("backoff interrupted: %w", err)
			return res
		}
	}
}

// Attempt executes the job exactly once. A retryable failure returns
// StatusRetry with the delay to wait before the next attempt; the caller owns
// rescheduling. Terminal failures are handed to the dead-letter sink.
func (r *Runner) Attempt(ctx context.Context, job Job) Result {
	start := r.now()
	if job.StartedAt == nil {
		started := start.UTC()
		job.StartedAt = &started
	}

	outcome := r.execute(logger.ContextWithJobID(ctx, job.ID), job)
	duration := r.now().Sub(start)

	res := Result{Job: job, Attempt: job.Attempt, Duration: duration}

	switch outcome.Kind() {
	case OutcomeSuccess:
		completed := r.now().UTC()
		res.Job.CompletedAt = &completed
		res.Status = StatusSuccess
		res.Value = outcome.Value()
		r.record(job, duration, "success", "")
		return res

	case OutcomeFatal:
		r.record(job, duration, "fatal", outcome.Reason())
		return r.deadLetter(ctx, res, outcome.Reason(), outcome.Err())

	default:
		// Retry and unclassified outcomes share the same budget.
		attempt := job.Attempt + 1
		res.Job.Attempt = attempt
		res.Attempt = attempt
		res.Reason = outcome.Reason()
		res.Err = outcome.Err()
		r.record(job, duration, "retry", outcome.Reason())

		policy := r.policy.ForJob(job)
		if policy.Exhausted(attempt) {
			reason := fmt.Sprintf("retries exhausted after %d attempts: %s", attempt, outcome.Reason())
			return r.deadLetter(ctx, res, reason, outcome.Err())
		}

		res.Status = StatusRetry
		res.NextDelay = policy.Delay(attempt)
		return res
	}
}

func (r *Runner) execute(ctx context.Context, job Job) (out Outcome) {
	executor, ok := r.registry.Lookup(job.Type)
	if !ok {
		return Fatal(fmt.Sprintf("no executor registered for job type %q", job.Type), nil)
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = Retry(fmt.Sprintf("executor panicked: %v", rec), nil)
		}
	}()

	return executor.Execute(ctx, job)
}

func (r *Runner) deadLetter(ctx context.Context, res Result, reason string, cause error) Result {
	completed := r.now().UTC()
	res.Job.CompletedAt = &completed
	res.Status = StatusDeadLettered
	res.Reason = reason
	res.Err = cause

	metrics.JobsDeadLettered.WithLabelValues(res.Job.Type).Inc()
	r.log.Error("job dead-lettered",
		"jobId", res.Job.ID,
		"jobType", res.Job.Type,
		"attempt", res.Attempt,
		"reason", reason,
		"metadata", res.Job.Metadata,
		"payload", string(res.Job.Payload),
	)

	if r.dlq == nil {
		res.DeadLetterErr = fmt.Errorf("dead-letter sink not configured for job %s", res.Job.ID)
		return res
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()
	if err := r.dlq.DeadLetter(dctx, res.Job, reason); err != nil {
		res.DeadLetterErr = fmt.Errorf("dead-letter job %s: %w", res.Job.ID, err)
	}
	return res
}

func (r *Runner) record(job Job, duration time.Duration, outcome, reason string) {
	metrics.JobAttempts.WithLabelValues(job.Type, outcome).Inc()
	r.log.JobAttempt(job.ID, job.Type, job.Attempt, duration, outcome, reason)
}
