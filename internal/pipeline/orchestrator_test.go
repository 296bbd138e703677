package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"

	"github.com/google/uuid"
)

const chat = "31612345678@s.whatsapp.net"

func TestProcessInboundMessageHappyPath(t *testing.T) {
	h := newHarness()
	h.vectors.docs = []ports.ContextDoc{{Text: "Customer: hoi\nAssistant: hallo"}}

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Hoi daar"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.ResponseSent || res.ResponseText != "Hallo! Waarmee kan ik je helpen?" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Intent != domain.IntentGreeting || res.MaturityScore != 2 {
		t.Fatalf("unexpected intent/score %s/%d", res.Intent, res.MaturityScore)
	}
	if h.llm.called(StageUrgency) != 0 {
		t.Fatalf("urgency check must only run after a keyword match")
	}

	msgs := h.store.messages
	if len(msgs) != 2 || msgs[0].Direction != domain.DirectionInbound || msgs[1].Direction != domain.DirectionOutbound {
		t.Fatalf("expected inbound then outbound message, got %+v", msgs)
	}
	if len(h.vectors.added) != 1 || !strings.Contains(h.vectors.added[0], "Hoi daar") {
		t.Fatalf("exchange not written back: %v", h.vectors.added)
	}
	if len(h.store.llmCalls) != 2 || len(h.store.scores) != 1 {
		t.Fatalf("audit records missing: llm=%d lead=%d", len(h.store.llmCalls), len(h.store.scores))
	}
	if len(h.enqueuer.escalations) != 0 {
		t.Fatalf("greeting must not escalate")
	}
}

func TestContextRetrievalFailureStillReplies(t *testing.T) {
	h := newHarness()
	h.vectors.queryErr = apperr.Unavailable("qdrant down", errors.New("connection refused"))

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Wat kost een dakkapel?"))
	if err != nil {
		t.Fatalf("context failure must degrade, got %v", err)
	}
	if strings.TrimSpace(res.ResponseText) == "" || !res.ResponseSent {
		t.Fatalf("expected a reply, got %+v", res)
	}
	if res.Fallback {
		t.Fatalf("degraded context must not trigger the fallback")
	}
}

func TestUrgencyIsMonotonic(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	res, err := h.orch.ProcessInboundMessage(ctx, textInbound(chat, "I have chest pain now"))
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if !res.Urgent || !h.store.conversation(chat).IsUrgent {
		t.Fatalf("conversation should be urgent")
	}
	if len(h.enqueuer.escalations) != 1 || h.enqueuer.escalations[0].Trigger != ports.TriggerUrgency || !h.enqueuer.escalations[0].Urgent {
		t.Fatalf("expected urgent escalation, got %+v", h.enqueuer.escalations)
	}

	h.llm.answers[StageIntent] = "INFORMATION"
	res, err = h.orch.ProcessInboundMessage(ctx, textInbound(chat, "What are your opening hours?"))
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if !res.Urgent || !h.store.conversation(chat).IsUrgent {
		t.Fatalf("urgency must stay set after an unrelated message")
	}
}

func TestUrgentEscalationRunsInlineWhenQueueIsDown(t *testing.T) {
	h := newHarness()
	h.enqueuer.err = apperr.Unavailable("enqueue job", errors.New("redis down"))

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "I have chest pain now"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.ResponseSent || res.EscalationJobID != "" || !res.EscalatedInline {
		t.Fatalf("expected reply plus inline escalation, got %+v", res)
	}
	if len(h.escalator.requests) != 1 {
		t.Fatalf("expected one inline escalation, got %d", len(h.escalator.requests))
	}
	req := h.escalator.requests[0]
	if req.Trigger != ports.TriggerUrgency || !req.Urgent || req.ConversationID != res.ConversationID {
		t.Fatalf("unexpected escalation %+v", req)
	}
}

func TestNonUrgentEscalationOnlyDegradesWhenQueueIsDown(t *testing.T) {
	h := newHarness()
	h.enqueuer.err = apperr.Unavailable("enqueue job", errors.New("redis down"))
	h.llm.answers[StageIntent] = "HUMAN_REQUEST"

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Kan ik iemand spreken?"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.EscalatedInline || len(h.escalator.requests) != 0 {
		t.Fatalf("only urgent escalations bypass the queue, got %+v", h.escalator.requests)
	}
}

func TestUrgencyKeywordRejectedByModel(t *testing.T) {
	h := newHarness()
	h.llm.answers[StageUrgency] = "NO"

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Is het spoed als ik volgend jaar wil verbouwen?"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Urgent {
		t.Fatalf("model said the keyword match was not urgent")
	}
	if h.llm.called(StageUrgency) != 1 {
		t.Fatalf("keyword match should trigger exactly one urgency check")
	}
}

func TestIntentOutsideSetBecomesOther(t *testing.T) {
	h := newHarness()
	h.llm.answers[StageIntent] = "Banana request."

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "blub"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Intent != domain.IntentOther || res.MaturityScore != 0 {
		t.Fatalf("expected OTHER with unchanged score, got %s/%d", res.Intent, res.MaturityScore)
	}
}

func TestDispatchFailureIsRetryable(t *testing.T) {
	h := newHarness()
	h.gateway.err = apperr.BadRequest("gateway rejected message")

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Hoi"))
	if err == nil {
		t.Fatalf("expected dispatch error")
	}
	if !IsStage(err, StageDispatch) {
		t.Fatalf("expected dispatch stage error, got %v", err)
	}
	if jobs.Classify(err).Kind() != jobs.OutcomeRetry {
		t.Fatalf("dispatch failure must be retried, got %s", jobs.Classify(err))
	}
	if res.ResponseSent || res.Fallback {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDispatchRetryScoresMessageOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	in := textInbound(chat, "Hoi daar")
	in.ExternalID = "wamid-1"

	h.gateway.err = apperr.Unavailable("gateway down", errors.New("connection refused"))
	for attempt := 0; attempt < 2; attempt++ {
		in.Attempt = attempt
		if _, err := h.orch.ProcessInboundMessage(ctx, in); !IsStage(err, StageDispatch) {
			t.Fatalf("attempt %d: expected dispatch error, got %v", attempt, err)
		}
	}

	h.gateway.err = nil
	in.Attempt = 2
	res, err := h.orch.ProcessInboundMessage(ctx, in)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if res.MaturityScore != 2 {
		t.Fatalf("score = %d, want 2 after three attempts on one message", res.MaturityScore)
	}
	if len(h.store.scores) != 1 {
		t.Fatalf("expected one recorded score change, got %d", len(h.store.scores))
	}
}

func TestGenerationFailureSendsFallbackOnce(t *testing.T) {
	h := newHarness()
	h.llm.errs[StageGenerate] = apperr.RateLimited("slow down")

	in := textInbound(chat, "Hoi")
	res, err := h.orch.ProcessInboundMessage(context.Background(), in)
	if !IsStage(err, StageGenerate) || !apperr.IsRetryable(err) {
		t.Fatalf("expected retryable generate failure, got %v", err)
	}
	if !res.Fallback || !res.ResponseSent || res.ResponseText != "Sorry, we komen zo bij je terug." {
		t.Fatalf("expected delivered fallback, got %+v", res)
	}

	in.Attempt = 1
	res, _ = h.orch.ProcessInboundMessage(context.Background(), in)
	if res.Fallback || len(h.gateway.sent) != 1 {
		t.Fatalf("retries must not repeat the apology, sent %v", h.gateway.sent)
	}
}

func TestFallbackUsesStaticTextWhenModelFails(t *testing.T) {
	h := newHarness()
	h.llm.errs[StageIntent] = apperr.Timeout("model timeout", nil)
	h.llm.errs["fallback"] = apperr.Timeout("model timeout", nil)

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Hoi"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ResponseText != DefaultPrompts().Fallback.Static || !res.ResponseSent {
		t.Fatalf("expected static apology, got %+v", res)
	}
	if h.llm.called("fallback") != 2 {
		t.Fatalf("fallback generation should be retried once, got %d calls", h.llm.called("fallback"))
	}
}

func TestHumanOwnedConversationGetsNoReply(t *testing.T) {
	h := newHarness()
	op := uuid.New()
	lead := domain.NewLead()
	conv := domain.NewConversation(chat, "+31612345678", "Sanne", lead.ID, h.orch.now())
	if err := conv.ApplyHandoff(domain.EventRequest, nil); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := conv.ApplyHandoff(domain.EventAssign, &op); err != nil {
		t.Fatalf("assign: %v", err)
	}
	h.store.seed(conv, lead)

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Ben je er nog?"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.ResponseSent || len(h.gateway.sent) != 0 {
		t.Fatalf("bot must stay silent while a human owns the conversation")
	}
	if len(h.store.messages) != 1 {
		t.Fatalf("inbound message must still be stored")
	}
	if len(h.notifier.kinds) != 1 || h.notifier.kinds[0] != "conversation.message" {
		t.Fatalf("assigned operator should be notified, got %v", h.notifier.kinds)
	}
}

func TestClosedConversationReopens(t *testing.T) {
	h := newHarness()
	lead := domain.NewLead()
	conv := domain.NewConversation(chat, "+31612345678", "", lead.ID, h.orch.now())
	if err := conv.TransitionTo(domain.StatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	h.store.seed(conv, lead)

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Hallo weer"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	got := h.store.conversation(chat)
	if got.Status != domain.StatusActive || got.Handoff != domain.HandoffActiveBot {
		t.Fatalf("expected reopened bot conversation, got %s/%s", got.Status, got.Handoff)
	}
	if !res.ResponseSent {
		t.Fatalf("reopened conversation should get a reply")
	}
}

func TestTranscriptionFailureDegrades(t *testing.T) {
	h := newHarness()
	h.orch.deps.Transcriber = failingTranscriber{}

	in := Inbound{ChatID: chat, Content: domain.Media{Kind: domain.MediaAudio, URL: "https://mmg.whatsapp.net/v.ogg"}}
	res, err := h.orch.ProcessInboundMessage(context.Background(), in)
	if err != nil {
		t.Fatalf("transcription failure must not abort, got %v", err)
	}
	if !res.ResponseSent {
		t.Fatalf("expected a reply")
	}
	if h.store.messages[0].Content != transcriptionFailedText {
		t.Fatalf("expected placeholder, got %q", h.store.messages[0].Content)
	}
}

func TestScoreThresholdCrossingEscalates(t *testing.T) {
	h := newHarness()
	lead := domain.NewLead()
	lead.ApplyDelta(75)
	h.store.seed(domain.NewConversation(chat, "+31612345678", "", lead.ID, h.orch.now()), lead)
	h.llm.answers[StageIntent] = "SCHEDULING"

	res, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "Kunnen jullie dinsdag langskomen?"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.MaturityScore != 95 {
		t.Fatalf("expected score 95, got %d", res.MaturityScore)
	}
	if h.store.lead(lead.ID).Status != domain.LeadStatusHot {
		t.Fatalf("lead should be HOT")
	}
	if len(h.enqueuer.escalations) != 1 || h.enqueuer.escalations[0].Trigger != ports.TriggerScoreThreshold {
		t.Fatalf("expected score threshold escalation, got %+v", h.enqueuer.escalations)
	}
}

func TestBotConfusionEscalates(t *testing.T) {
	h := newHarness()
	h.llm.answers[StageIntent] = "OTHER"
	h.llm.answers[StageGenerate] = "Sorry, ik begrijp het niet helemaal."

	if _, err := h.orch.ProcessInboundMessage(context.Background(), textInbound(chat, "qwerty")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(h.enqueuer.escalations) != 1 || h.enqueuer.escalations[0].Trigger != ports.TriggerBotConfusion {
		t.Fatalf("expected confusion escalation, got %+v", h.enqueuer.escalations)
	}
}

func TestAIProcessingExecutorClassifiesOutcome(t *testing.T) {
	h := newHarness()
	exec := NewAIProcessingExecutor(h.orch, nil)

	job, err := jobs.New(jobs.TypeAIProcessing, MessagePayload{ChatID: chat, Text: "Hoi"}, nil)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if out := exec.Execute(context.Background(), job); out.Kind() != jobs.OutcomeSuccess {
		t.Fatalf("expected success, got %s", out)
	}

	empty, _ := jobs.New(jobs.TypeAIProcessing, MessagePayload{ChatID: chat}, nil)
	if out := exec.Execute(context.Background(), empty); out.Kind() != jobs.OutcomeFatal {
		t.Fatalf("empty message must be fatal, got %s", out)
	}

	h.gateway.err = apperr.Unavailable("gateway down", nil)
	if out := exec.Execute(context.Background(), job); out.Kind() != jobs.OutcomeRetry {
		t.Fatalf("dispatch failure must retry, got %s", out)
	}
}
