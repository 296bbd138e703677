// Package llm exposes a language model behind the pipeline's Generate
// contract, recording usage and latency.
package llm

import (
	"context"
	"strings"
	"time"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/metrics"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// Service implements ports.LLM over any ADK model.
type Service struct {
	model model.LLM
	log   *logger.Logger
	now   func() time.Time
}

var _ ports.LLM = (*Service)(nil)

func New(m model.LLM, log *logger.Logger) *Service {
	return &Service{model: m, log: log, now: time.Now}
}

// Generate runs one non-streaming completion.
func (s *Service) Generate(ctx context.Context, req ports.GenerateRequest) (ports.Generation, error) {
	if s == nil || s.model == nil {
		return ports.Generation{}, apperr.Unavailable("language model not configured", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return ports.Generation{}, apperr.Validation("prompt is required")
	}

	llmReq := &model.LLMRequest{
		Model:    s.model.Name(),
		Contents: buildContents(req),
		Config:   &genai.GenerateContentConfig{},
	}
	if req.System != "" {
		llmReq.Config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		llmReq.Config.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		llmReq.Config.Temperature = &temp
	}

	start := s.now()
	var (
		text   strings.Builder
		tokens int
	)
	for resp, err := range s.model.GenerateContent(ctx, llmReq, false) {
		if err != nil {
			s.observe(req.Purpose, start)
			return ports.Generation{}, classify(err)
		}
		if resp == nil {
			continue
		}
		if resp.ErrorCode != "" {
			s.observe(req.Purpose, start)
			return ports.Generation{}, apperr.BadRequest("model error: " + resp.ErrorCode + " " + resp.ErrorMessage)
		}
		if resp.Content != nil {
			for _, part := range resp.Content.Parts {
				if part != nil {
					text.WriteString(part.Text)
				}
			}
		}
		if resp.UsageMetadata != nil {
			tokens = int(resp.UsageMetadata.TotalTokenCount)
		}
	}
	latency := s.observe(req.Purpose, start)

	out := strings.TrimSpace(text.String())
	if out == "" {
		return ports.Generation{}, apperr.Unavailable("model returned an empty response", nil)
	}
	if tokens == 0 {
		tokens = estimateTokens(req, out)
	}

	s.log.Debug("llm call completed", "purpose", req.Purpose, "tokens", tokens, "latencyMs", latency.Milliseconds())
	return ports.Generation{Text: out, TokensUsed: tokens, Latency: latency}, nil
}

func (s *Service) observe(purpose string, start time.Time) time.Duration {
	latency := s.now().Sub(start)
	metrics.LLMLatency.WithLabelValues(purpose).Observe(latency.Seconds())
	return latency
}

func buildContents(req ports.GenerateRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, 2)
	if len(req.Context) > 0 {
		var b strings.Builder
		b.WriteString("Earlier in this conversation:\n")
		for _, c := range req.Context {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(c))
			b.WriteString("\n")
		}
		contents = append(contents, genai.NewContentFromText(b.String(), genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
	return contents
}

func classify(err error) error {
	if apperr.GetKind(err) != apperr.KindUnknown {
		return err
	}
	if apperr.IsRetryable(err) {
		return apperr.Timeout("language model call failed", err)
	}
	return apperr.Unavailable("language model call failed", err)
}

// estimateTokens approximates usage when the provider reports none.
func estimateTokens(req ports.GenerateRequest, out string) int {
	chars := len(req.System) + len(req.Prompt) + len(out)
	for _, c := range req.Context {
		chars += len(c)
	}
	return chars/4 + 1
}
