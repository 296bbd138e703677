package pipeline

import (
	"context"
	"testing"
	"time"

	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/validator"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisDeduper(rdb, time.Hour), mr
}

func ingestionJob(t *testing.T, p MessagePayload) jobs.Job {
	t.Helper()
	job, err := jobs.New(jobs.TypeMessageIngestion, p, nil)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

func TestIngestionDropsRedeliveries(t *testing.T) {
	dedupe, mr := newDeduper(t)
	enq := &recordingEnqueuer{}
	exec := NewIngestionExecutor(dedupe, enq, validator.New(), logger.Nop())

	job := ingestionJob(t, MessagePayload{ChatID: chat, ExternalID: "3EB0AA", Text: " Hoi "})
	for range 2 {
		if out := exec.Execute(context.Background(), job); out.Kind() != jobs.OutcomeSuccess {
			t.Fatalf("expected success, got %s", out)
		}
	}
	if len(enq.ai) != 1 {
		t.Fatalf("expected one AI job, got %d", len(enq.ai))
	}
	p := enq.ai[0].(MessagePayload)
	if p.Text != "Hoi" || p.SenderPhone != "+31612345678" {
		t.Fatalf("payload not normalised: %+v", p)
	}
	if ttl := mr.TTL(dedupeKeyPrefix + "3EB0AA"); ttl != time.Hour {
		t.Fatalf("unexpected dedupe ttl %s", ttl)
	}
}

func TestIngestionReleasesClaimWhenEnqueueFails(t *testing.T) {
	dedupe, _ := newDeduper(t)
	enq := &recordingEnqueuer{err: apperr.Unavailable("redis down", nil)}
	exec := NewIngestionExecutor(dedupe, enq, validator.New(), logger.Nop())

	job := ingestionJob(t, MessagePayload{ChatID: chat, ExternalID: "3EB0BB", Text: "Hoi"})
	if out := exec.Execute(context.Background(), job); out.Kind() != jobs.OutcomeRetry {
		t.Fatalf("expected retry, got %s", out)
	}

	enq.err = nil
	if out := exec.Execute(context.Background(), job); out.Kind() != jobs.OutcomeSuccess {
		t.Fatalf("expected success on retry, got %s", out)
	}
	if len(enq.ai) != 1 {
		t.Fatalf("retry after a failed enqueue must not be treated as a duplicate")
	}
}

func TestIngestionRejectsInvalidPayloads(t *testing.T) {
	exec := NewIngestionExecutor(nil, &recordingEnqueuer{}, validator.New(), logger.Nop())

	cases := map[string]MessagePayload{
		"missing chat id": {Text: "hoi"},
		"bad chat id":     {ChatID: "not-a-jid", Text: "hoi"},
		"no content":      {ChatID: chat},
		"bad media kind":  {ChatID: chat, Media: &MediaPayload{Kind: "sticker", URL: "https://x/y"}},
	}
	for name, p := range cases {
		if out := exec.Execute(context.Background(), ingestionJob(t, p)); out.Kind() != jobs.OutcomeFatal {
			t.Errorf("%s: expected fatal, got %s", name, out)
		}
	}
}

func TestLoadPromptsOverlay(t *testing.T) {
	path := t.TempDir() + "/prompts.yaml"
	if err := writeFile(path, "score_deltas:\n  GREETING: 7\nurgency_keywords: [lekkage]\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Delta("GREETING") != 7 || p.Delta("SCHEDULING") != 20 {
		t.Fatalf("override should merge per key, got %v", p.ScoreDeltas)
	}
	if len(p.UrgencyKeywords) != 1 {
		t.Fatalf("keyword list should be replaced, got %v", p.UrgencyKeywords)
	}
	if p.System == "" {
		t.Fatalf("defaults must survive an overlay")
	}
}

func TestRender(t *testing.T) {
	got := render("Hi {contact}, score {score}", map[string]string{"contact": "Sanne", "score": "40"})
	if got != "Hi Sanne, score 40" {
		t.Fatalf("got %q", got)
	}
}
