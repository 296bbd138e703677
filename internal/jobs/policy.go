package jobs

import "time"

const defaultMaxRetries = 3

var defaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	// MaxRetries is the attempt count at which a job is dead-lettered.
	MaxRetries int
	// Backoff[i] is the wait before attempt i+2. The last entry is reused when
	// the schedule is shorter than the retry budget.
	Backoff []time.Duration
}

// DefaultPolicy retries 3 times with 1s, 2s, 4s waits.
func DefaultPolicy() RetryPolicy {
	backoff := make([]time.Duration, len(defaultBackoff))
	copy(backoff, defaultBackoff)
	return RetryPolicy{MaxRetries: defaultMaxRetries, Backoff: backoff}
}

func (p RetryPolicy) maxRetries() int {
	if p.MaxRetries < 1 {
		return defaultMaxRetries
	}
	return p.MaxRetries
}

// Limit returns the effective retry ceiling.
func (p RetryPolicy) Limit() int {
	return p.maxRetries()
}

// ForJob returns the policy with the job's own retry budget applied.
func (p RetryPolicy) ForJob(job Job) RetryPolicy {
	if job.MaxRetries > 0 {
		p.MaxRetries = job.MaxRetries
	}
	return p
}

// Exhausted reports whether attempt failed attempts use up the budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.maxRetries()
}

// Delay returns the wait after the attempt-th failure (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	backoff := p.Backoff
	if len(backoff) == 0 {
		backoff = defaultBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(backoff) {
		idx = len(backoff) - 1
	}
	return backoff[idx]
}
