package queue

import (
	"testing"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestPeriodic(t *testing.T) *Periodic {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	p, err := NewPeriodic(&config.Config{RedisURL: "redis://" + mr.Addr()}, logger.Nop())
	if err != nil {
		t.Fatalf("new periodic: %v", err)
	}
	return p
}

func TestPeriodicRegistersCronSpec(t *testing.T) {
	p := newTestPeriodic(t)

	id, err := p.Register("@every 30s", jobs.TypeNotificationDue, struct{}{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == "" {
		t.Fatalf("expected an entry id")
	}
}

func TestPeriodicRejectsInvalidSpec(t *testing.T) {
	p := newTestPeriodic(t)

	_, err := p.Register("every now and then", jobs.TypeCleanup, struct{}{})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPeriodicJobsRunOnScheduledQueue(t *testing.T) {
	for _, jobType := range []string{jobs.TypeReengagement, jobs.TypeCleanup, jobs.TypeNotificationDue, jobs.TypeReminder} {
		if got := ForJobType(jobType); got != Scheduled {
			t.Errorf("%s runs on %s, want %s", jobType, got, Scheduled)
		}
	}
}
