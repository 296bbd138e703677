package llm

import (
	"context"
	"iter"
	"testing"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

type stubModel struct {
	text  string
	usage int32
	err   error
	last  *model.LLMRequest
}

func (s *stubModel) Name() string { return "stub" }

func (s *stubModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	s.last = req
	return func(yield func(*model.LLMResponse, error) bool) {
		if s.err != nil {
			yield(nil, s.err)
			return
		}
		resp := &model.LLMResponse{Content: genai.NewContentFromText(s.text, genai.RoleModel)}
		if s.usage > 0 {
			resp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: s.usage}
		}
		yield(resp, nil)
	}
}

func TestGenerateReportsUsage(t *testing.T) {
	m := &stubModel{text: " Goedemiddag! ", usage: 42}
	svc := New(m, logger.Nop())

	gen, err := svc.Generate(context.Background(), ports.GenerateRequest{
		Purpose: "response",
		System:  "be brief",
		Prompt:  "hallo",
		Context: []string{"user: eerder bericht"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.Text != "Goedemiddag!" || gen.TokensUsed != 42 {
		t.Fatalf("unexpected generation %+v", gen)
	}
	if len(m.last.Contents) != 2 || m.last.Config.SystemInstruction == nil {
		t.Fatalf("context and system prompt must be forwarded")
	}
}

func TestGenerateEstimatesMissingUsage(t *testing.T) {
	svc := New(&stubModel{text: "ok"}, logger.Nop())
	gen, err := svc.Generate(context.Background(), ports.GenerateRequest{Purpose: "intent", Prompt: "hallo daar"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.TokensUsed <= 0 {
		t.Fatalf("expected estimated tokens")
	}
}

func TestGenerateErrors(t *testing.T) {
	svc := New(&stubModel{err: apperr.RateLimited("429")}, logger.Nop())
	_, err := svc.Generate(context.Background(), ports.GenerateRequest{Prompt: "x"})
	if !apperr.Is(err, apperr.KindRateLimited) {
		t.Fatalf("expected rate limit to pass through, got %v", err)
	}

	svc = New(&stubModel{text: "   "}, logger.Nop())
	if _, err := svc.Generate(context.Background(), ports.GenerateRequest{Prompt: "x"}); !apperr.IsRetryable(err) {
		t.Fatalf("empty response should be retryable, got %v", err)
	}

	if _, err := svc.Generate(context.Background(), ports.GenerateRequest{}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("empty prompt must be a validation error, got %v", err)
	}
}
