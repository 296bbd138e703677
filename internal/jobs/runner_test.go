package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"
)

type recordingSink struct {
	mu      sync.Mutex
	jobs    []Job
	reasons []string
	err     error
}

func (s *recordingSink) DeadLetter(_ context.Context, job Job, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.reasons = append(s.reasons, reason)
	return s.err
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

// failingExecutor returns a transient error for the first n calls.
func failingExecutor(n int, calls *int) Executor {
	return ExecutorFunc(func(ctx context.Context, job Job) Outcome {
		*calls++
		if *calls <= n {
			return Classify(apperr.Timeout("llm call timed out", context.DeadlineExceeded))
		}
		return Success("done")
	})
}

func newTestRunner(t *testing.T, jobType string, exec Executor) (*Runner, *recordingSink, *sleepRecorder) {
	t.Helper()
	reg := NewRegistry()
	reg.Register(jobType, exec)
	sink := &recordingSink{}
	sleeper := &sleepRecorder{}
	r := NewRunner(reg, DefaultPolicy(), sink, logger.Nop())
	r.SetSleeper(sleeper.sleep)
	return r, sink, sleeper
}

func mustJob(t *testing.T, jobType string) Job {
	t.Helper()
	job, err := New(jobType, map[string]string{"chatId": "31612345678@s.whatsapp.net"}, nil)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

func TestRunAttemptCounterAfterTransientFailures(t *testing.T) {
	const maxRetries = 3

	for failures := 0; failures <= 5; failures++ {
		calls := 0
		r, sink, _ := newTestRunner(t, TypeAIProcessing, failingExecutor(failures, &calls))

		res := r.Run(context.Background(), mustJob(t, TypeAIProcessing))

		wantAttempt := failures
		if wantAttempt > maxRetries {
			wantAttempt = maxRetries
		}
		if res.Attempt != wantAttempt {
			t.Errorf("failures=%d: attempt = %d, want %d", failures, res.Attempt, wantAttempt)
		}

		deadLettered := res.Status == StatusDeadLettered
		if deadLettered != (res.Attempt == maxRetries) {
			t.Errorf("failures=%d: dead-lettered=%v with attempt %d", failures, deadLettered, res.Attempt)
		}
		if deadLettered && len(sink.jobs) != 1 {
			t.Errorf("failures=%d: expected exactly one dead-letter, got %d", failures, len(sink.jobs))
		}
		if !deadLettered && len(sink.jobs) != 0 {
			t.Errorf("failures=%d: unexpected dead-letter", failures)
		}
	}
}

func TestRunTimeoutTwiceThenSuccess(t *testing.T) {
	calls := 0
	r, sink, sleeper := newTestRunner(t, TypeAIProcessing, failingExecutor(2, &calls))

	res := r.Run(context.Background(), mustJob(t, TypeAIProcessing))

	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Reason)
	}
	if res.Attempt != 2 {
		t.Fatalf("expected 2 retries recorded, got %d", res.Attempt)
	}
	if res.Value != "done" {
		t.Fatalf("unexpected value %v", res.Value)
	}
	if len(sink.jobs) != 0 {
		t.Fatalf("job should not be dead-lettered")
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %v", len(want), sleeper.delays)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("sleep %d = %s, want %s", i, sleeper.delays[i], want[i])
		}
	}
	if res.Job.StartedAt == nil || res.Job.CompletedAt == nil {
		t.Fatalf("expected start and completion timestamps")
	}
}

func TestFatalOutcomeIsDeadLetteredWithoutRetry(t *testing.T) {
	calls := 0
	exec := ExecutorFunc(func(ctx context.Context, job Job) Outcome {
		calls++
		return Classify(apperr.NotFound("conversation not found"))
	})
	r, sink, sleeper := newTestRunner(t, TypeEscalation, exec)

	res := r.Run(context.Background(), mustJob(t, TypeEscalation))

	if res.Status != StatusDeadLettered {
		t.Fatalf("expected dead-lettered, got %s", res.Status)
	}
	if calls != 1 || len(sleeper.delays) != 0 {
		t.Fatalf("fatal failure must not be retried (calls=%d sleeps=%d)", calls, len(sleeper.delays))
	}
	if res.Attempt != 0 {
		t.Fatalf("expected attempt 0, got %d", res.Attempt)
	}
	if len(sink.jobs) != 1 || sink.reasons[0] == "" {
		t.Fatalf("expected dead-letter with reason, got %v", sink.reasons)
	}
}

func TestUnclassifiedErrorsAreRetried(t *testing.T) {
	calls := 0
	exec := ExecutorFunc(func(ctx context.Context, job Job) Outcome {
		calls++
		if calls == 1 {
			return Classify(errors.New("something odd"))
		}
		if calls == 2 {
			return Outcome{}
		}
		return Success(nil)
	})
	r, _, _ := newTestRunner(t, TypeMessageIngestion, exec)

	res := r.Run(context.Background(), mustJob(t, TypeMessageIngestion))
	if res.Status != StatusSuccess || res.Attempt != 2 {
		t.Fatalf("expected success after 2 retries, got %s attempt=%d", res.Status, res.Attempt)
	}
}

func TestPanickingExecutorIsRetriedThenDeadLettered(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, job Job) Outcome {
		panic("nil map")
	})
	r, sink, _ := newTestRunner(t, TypeReminder, exec)

	res := r.Run(context.Background(), mustJob(t, TypeReminder))
	if res.Status != StatusDeadLettered || res.Attempt != 3 {
		t.Fatalf("expected dead-letter after 3 attempts, got %s attempt=%d", res.Status, res.Attempt)
	}
	if len(sink.jobs) != 1 {
		t.Fatalf("expected one dead-letter")
	}
}

func TestUnknownJobTypeIsFatal(t *testing.T) {
	r, sink, _ := newTestRunner(t, TypeReminder, ExecutorFunc(func(ctx context.Context, job Job) Outcome {
		return Success(nil)
	}))

	res := r.Attempt(context.Background(), mustJob(t, "does.not.exist"))
	if res.Status != StatusDeadLettered || len(sink.jobs) != 1 {
		t.Fatalf("unknown job type must be dead-lettered, got %s", res.Status)
	}
}

func TestAttemptReportsNextDelay(t *testing.T) {
	calls := 0
	r, _, _ := newTestRunner(t, TypeAIProcessing, failingExecutor(10, &calls))

	job := mustJob(t, TypeAIProcessing)
	job.Attempt = 1
	res := r.Attempt(context.Background(), job)

	if res.Status != StatusRetry {
		t.Fatalf("expected retry, got %s", res.Status)
	}
	if res.Attempt != 2 || res.Job.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", res.Attempt)
	}
	if res.NextDelay != 2*time.Second {
		t.Fatalf("expected 2s backoff, got %s", res.NextDelay)
	}
}

func TestJobRetryBudgetOverridesPolicy(t *testing.T) {
	calls := 0
	r, sink, sleeper := newTestRunner(t, TypeEscalation, failingExecutor(10, &calls))

	job := mustJob(t, TypeEscalation)
	job.MaxRetries = 1
	res := r.Run(context.Background(), job)

	if res.Status != StatusDeadLettered || calls != 1 {
		t.Fatalf("expected dead letter after 1 call, got %s after %d", res.Status, calls)
	}
	if len(sleeper.delays) != 0 || len(sink.jobs) != 1 {
		t.Fatalf("expected no backoff and one dead letter, got %v and %d", sleeper.delays, len(sink.jobs))
	}

	calls = 0
	job = mustJob(t, TypeEscalation)
	job.MaxRetries = 5
	if res := r.Run(context.Background(), job); res.Status != StatusDeadLettered || calls != 5 {
		t.Fatalf("expected dead letter after 5 calls, got %s after %d", res.Status, calls)
	}
}

func TestDeadLetterSinkFailureIsReported(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, job Job) Outcome {
		return Fatal("bad payload", nil)
	})
	r, sink, _ := newTestRunner(t, TypeCleanup, exec)
	sink.err = errors.New("redis down")

	res := r.Attempt(context.Background(), mustJob(t, TypeCleanup))
	if res.Status != StatusDeadLettered {
		t.Fatalf("expected dead-lettered status")
	}
	if res.DeadLetterErr == nil {
		t.Fatalf("expected dead-letter error to surface")
	}
}

func TestRunStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	calls := 0
	r, sink, _ := newTestRunner(t, TypeAIProcessing, failingExecutor(10, &calls))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, mustJob(t, TypeAIProcessing))
	if res.Status != StatusRetry || res.Err == nil {
		t.Fatalf("expected interrupted retry, got %s err=%v", res.Status, res.Err)
	}
	if len(sink.jobs) != 0 {
		t.Fatalf("interrupted job must not be dead-lettered")
	}
}
