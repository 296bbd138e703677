// Package pipeline turns an inbound chat message into a bot reply: it
// resolves the conversation, normalises media, retrieves context, detects
// urgency and intent, generates and sends the response, and updates the lead.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/metrics"
	"chatflow_backend/platform/textnorm"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage names used in logs, metrics and wrapped errors.
const (
	StageResolve         = "resolve"
	StageMedia           = "media"
	StagePersistInbound  = "persist_inbound"
	StageContext         = "context"
	StageUrgency         = "urgency"
	StageIntent          = "intent"
	StageGenerate        = "generate"
	StageScore           = "score"
	StageWriteBack       = "write_back"
	StageDispatch        = "dispatch"
	StagePersistOutbound = "persist_outbound"
	StageEscalation      = "escalation"
)

const (
	transcriptionFailedText = "[audio received, transcription failed]"
	noSpeechText            = "[audio received, no speech recognised]"
	defaultContextLimit     = 5
	defaultHandoffThreshold = 80
	defaultLanguage         = "nl"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	ports.ConversationWriter
	ports.MessageStore
	ports.AuditLog
}

// Settings tunes the pipeline.
type Settings struct {
	ContextLimit     int
	HandoffThreshold int
	Language         string
}

// Deps are the orchestrator's collaborators. Vectors, Transcriber, Archive,
// Notifier and Escalator are optional.
type Deps struct {
	Store       Store
	LLM         ports.LLM
	Gateway     ports.Gateway
	Enqueuer    ports.Enqueuer
	Vectors     ports.VectorStore
	Transcriber ports.Transcriber
	Archive     ports.MediaArchive
	Notifier    ports.Notifier
	Escalator   ports.Escalator
	Prompts     *Prompts
	Log         *logger.Logger
}

// Inbound is one message from a contact.
type Inbound struct {
	ChatID       string
	ContactPhone string
	ContactName  string
	ExternalID   string
	Content      domain.Content
	// Attempt is the job attempt this message is processed in.
	Attempt int
}

// Result describes what the pipeline did with a message.
type Result struct {
	ConversationID  uuid.UUID     `json:"conversationId"`
	ResponseSent    bool          `json:"responseSent"`
	ResponseText    string        `json:"responseText"`
	Intent          domain.Intent `json:"intent,omitempty"`
	MaturityScore   int           `json:"maturityScore"`
	Urgent          bool          `json:"urgent"`
	Fallback        bool          `json:"fallback,omitempty"`
	EscalationJobID string        `json:"escalationJobId,omitempty"`
	EscalatedInline bool          `json:"escalatedInline,omitempty"`
}

// StageError records the stage a pipeline failure happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Orchestrator runs the conversation pipeline.
type Orchestrator struct {
	deps     Deps
	settings Settings
	log      *logger.Logger
	now      func() time.Time
}

func NewOrchestrator(deps Deps, settings Settings) *Orchestrator {
	if settings.ContextLimit <= 0 {
		settings.ContextLimit = defaultContextLimit
	}
	if settings.HandoffThreshold <= 0 {
		settings.HandoffThreshold = defaultHandoffThreshold
	}
	if settings.Language == "" {
		settings.Language = defaultLanguage
	}
	if deps.Prompts == nil {
		deps.Prompts = DefaultPrompts()
	}
	return &Orchestrator{deps: deps, settings: settings, log: deps.Log, now: time.Now}
}

// run carries the per-message state between stages.
type run struct {
	in      Inbound
	conv    domain.Conversation
	lead    domain.Lead
	text    string
	context []string
	urgent  bool
	intent  domain.Intent
	reply   ports.Generation
	before  int
	after   int

	mu    sync.Mutex
	calls []domain.LLMInteraction
}

// ProcessInboundMessage runs the whole pipeline for one message. Failures in
// the stages before dispatch send a fallback apology and are returned; a
// failed dispatch is returned as retryable.
func (o *Orchestrator) ProcessInboundMessage(ctx context.Context, in Inbound) (Result, error) {
	log := o.log.WithContext(ctx)
	r := &run{in: in}

	if err := o.prepare(ctx, r); err != nil {
		res := Result{ConversationID: r.conv.ID, Urgent: r.conv.IsUrgent}
		if in.Attempt == 0 || apperr.IsFatal(err) {
			res.ResponseText, res.ResponseSent = o.sendFallback(ctx, in.ChatID)
			res.Fallback = true
		}
		log.Error("pipeline failed", "chatId", in.ChatID, "conversationId", r.conv.ID, "attempt", in.Attempt, "error", err)
		return res, err
	}

	res := Result{
		ConversationID: r.conv.ID,
		Urgent:         r.conv.IsUrgent,
		MaturityScore:  r.lead.MaturityScore,
	}
	if r.conv.HumanOwned() {
		return res, nil
	}

	res.Intent = r.intent
	res.ResponseText = r.reply.Text
	res.MaturityScore = r.after

	// 10. dispatch
	messageID, err := o.deps.Gateway.SendText(ctx, r.conv.ExternalChatID, r.reply.Text)
	if err != nil {
		return res, stageErr(StageDispatch, apperr.Unavailable("reply not delivered", err))
	}
	res.ResponseSent = true

	// 11. persist outbound and audit
	o.persistOutbound(ctx, r, messageID)

	if trigger := o.escalationTrigger(r); trigger != "" {
		req := ports.EscalationRequest{
			ConversationID: r.conv.ID,
			Trigger:        trigger,
			Urgent:         r.conv.IsUrgent,
		}
		id, err := o.deps.Enqueuer.EnqueueEscalation(ctx, req)
		switch {
		case err == nil:
			res.EscalationJobID = id
			log.Info("escalation enqueued", "conversationId", r.conv.ID, "trigger", trigger, "jobId", id)
		case trigger == ports.TriggerUrgency && o.deps.Escalator != nil:
			res.EscalatedInline = o.escalateInline(ctx, req, err)
		default:
			o.degrade(ctx, StageEscalation, r.conv.ID, err)
		}
	}
	return res, nil
}

// escalateInline hands an urgent escalation to the Escalator after the queue
// refused it.
func (o *Orchestrator) escalateInline(ctx context.Context, req ports.EscalationRequest, enqueueErr error) bool {
	o.log.WithContext(ctx).Warn("escalation queue unavailable, escalating inline",
		"conversationId", req.ConversationID, "trigger", req.Trigger, "error", enqueueErr)
	if err := o.deps.Escalator.Escalate(ctx, req); err != nil {
		o.degrade(ctx, StageEscalation, req.ConversationID, errors.Join(enqueueErr, err))
		return false
	}
	return true
}

// prepare runs stages 1 to 9. For human-owned conversations it stops after
// persisting the inbound message.
func (o *Orchestrator) prepare(ctx context.Context, r *run) error {
	// 1. resolve
	if err := o.resolve(ctx, r); err != nil {
		return stageErr(StageResolve, err)
	}

	// 2. media normalisation
	r.text = o.normaliseContent(ctx, r)

	// 3. persist inbound
	if _, err := o.deps.Store.AppendMessage(ctx, domain.Message{
		ConversationID: r.conv.ID,
		Direction:      domain.DirectionInbound,
		Content:        r.text,
		ExternalID:     r.in.ExternalID,
	}); err != nil {
		return stageErr(StagePersistInbound, err)
	}

	if r.conv.HumanOwned() {
		o.notifyOperator(ctx, r)
		return nil
	}

	// 4 and 5 are independent.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.context = o.retrieveContext(gctx, r)
		return nil
	})
	g.Go(func() error {
		if err := o.detectUrgency(gctx, r); err != nil {
			return stageErr(StageUrgency, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// 6. intent
	intent, err := o.classifyIntent(ctx, r)
	if err != nil {
		return stageErr(StageIntent, err)
	}
	r.intent = intent

	// 7. response
	reply, err := o.generateResponse(ctx, r)
	if err != nil {
		return stageErr(StageGenerate, err)
	}
	r.reply = reply

	// 8. score
	before, after, err := o.deps.Store.UpdateScore(ctx, ports.ScoreChange{
		LeadID:          r.lead.ID,
		ConversationID:  r.conv.ID,
		Intent:          r.intent,
		Delta:           o.deps.Prompts.Delta(r.intent),
		SourceMessageID: r.in.ExternalID,
	})
	if err != nil {
		return stageErr(StageScore, err)
	}
	r.before, r.after = before, after

	// 9. context write-back
	o.writeBack(ctx, r)
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, r *run) error {
	conv, lead, created, err := o.deps.Store.GetOrCreateConversation(ctx, ports.NewConversationParams{
		ExternalChatID: r.in.ChatID,
		ContactPhone:   r.in.ContactPhone,
		ContactName:    r.in.ContactName,
	})
	if err != nil {
		return err
	}
	if created {
		o.log.WithContext(ctx).Info("conversation created", "conversationId", conv.ID, "leadId", lead.ID)
	}

	if !conv.IsOpen() {
		conv, err = o.deps.Store.MutateConversation(ctx, conv.ID, func(c *domain.Conversation) error {
			if c.IsOpen() {
				return nil
			}
			return c.TransitionTo(domain.StatusActive)
		})
		if err != nil {
			return err
		}
		o.log.WithContext(ctx).Info("conversation reopened", "conversationId", conv.ID)
	}

	r.conv, r.lead = conv, lead
	return nil
}

func (o *Orchestrator) normaliseContent(ctx context.Context, r *run) string {
	m, ok := r.in.Content.(domain.Media)
	if !ok {
		return domain.ContentText(r.in.Content)
	}
	if !m.NeedsTranscription() {
		if text := domain.ContentText(m); text != "" {
			return text
		}
		return fmt.Sprintf("[%s received]", m.Kind)
	}

	transcript, err := o.transcribe(ctx, r.conv.ID, m)
	if err != nil {
		o.degrade(ctx, StageMedia, r.conv.ID, err)
		return joinNonEmpty(transcriptionFailedText, m.Caption)
	}
	if transcript == "" {
		return joinNonEmpty(noSpeechText, m.Caption)
	}
	return joinNonEmpty(m.Caption, transcript)
}

func (o *Orchestrator) transcribe(ctx context.Context, conversationID uuid.UUID, m domain.Media) (string, error) {
	if o.deps.Transcriber == nil {
		return "", apperr.Unavailable("no transcriber configured", nil)
	}
	url := m.URL
	if o.deps.Archive != nil {
		archived, err := o.deps.Archive.Archive(ctx, conversationID, m)
		if err != nil {
			o.log.WithContext(ctx).Warn("media archive failed, using gateway url", "conversationId", conversationID, "error", err)
		} else {
			url = archived
		}
	}
	return o.deps.Transcriber.Transcribe(ctx, url, o.settings.Language)
}

func (o *Orchestrator) retrieveContext(ctx context.Context, r *run) []string {
	if o.deps.Vectors == nil {
		return nil
	}
	id := r.conv.ID
	docs, err := o.deps.Vectors.Query(ctx, r.text, &id, o.settings.ContextLimit)
	if err != nil {
		o.degrade(ctx, StageContext, r.conv.ID, err)
		return nil
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Text) != "" {
			out = append(out, d.Text)
		}
	}
	return out
}

// detectUrgency gates the model check behind the keyword filter. If the check
// itself fails the keyword match stands.
func (o *Orchestrator) detectUrgency(ctx context.Context, r *run) error {
	keyword, matched := textnorm.ContainsAny(r.text, o.deps.Prompts.UrgencyKeywords)
	if !matched {
		return nil
	}

	urgent := true
	gen, err := o.generate(ctx, r, ports.GenerateRequest{
		Purpose:   StageUrgency,
		System:    o.deps.Prompts.Urgency.System,
		Prompt:    render(o.deps.Prompts.Urgency.Prompt, map[string]string{"message": r.text}),
		MaxTokens: 5,
	})
	if err != nil {
		o.degrade(ctx, StageUrgency, r.conv.ID, err)
	} else {
		urgent = isAffirmative(gen.Text)
	}
	if !urgent {
		return nil
	}

	r.urgent = true
	if r.conv.IsUrgent {
		return nil
	}
	conv, err := o.deps.Store.MutateConversation(ctx, r.conv.ID, func(c *domain.Conversation) error {
		c.MarkUrgent()
		return nil
	})
	if err != nil {
		return err
	}
	r.conv.IsUrgent = conv.IsUrgent
	o.log.WithContext(ctx).Warn("conversation flagged urgent", "conversationId", r.conv.ID, "keyword", keyword)
	return nil
}

func (o *Orchestrator) classifyIntent(ctx context.Context, r *run) (domain.Intent, error) {
	labels := make([]string, 0, len(domain.Intents()))
	for _, i := range domain.Intents() {
		labels = append(labels, string(i))
	}
	gen, err := o.generate(ctx, r, ports.GenerateRequest{
		Purpose: StageIntent,
		System:  o.deps.Prompts.Intent.System,
		Prompt: render(o.deps.Prompts.Intent.Prompt, map[string]string{
			"labels":  strings.Join(labels, ", "),
			"message": r.text,
		}),
		MaxTokens: 10,
	})
	if err != nil {
		return "", err
	}
	return domain.NormalizeIntent(gen.Text), nil
}

func (o *Orchestrator) generateResponse(ctx context.Context, r *run) (ports.Generation, error) {
	contact := r.conv.ContactName
	if contact == "" {
		contact = "the customer"
	}
	prompt := render(o.deps.Prompts.ResponseTemplate(r.intent), map[string]string{
		"contact":     contact,
		"message":     r.text,
		"intent":      string(r.intent),
		"score":       strconv.Itoa(r.lead.MaturityScore),
		"lead_status": string(r.lead.Status),
	})
	if r.urgent {
		prompt += "\nThe message may describe an emergency: tell the customer a colleague is alerted right now."
	}
	gen, err := o.generate(ctx, r, ports.GenerateRequest{
		Purpose:     StageGenerate,
		System:      o.deps.Prompts.System,
		Prompt:      prompt,
		Context:     r.context,
		MaxTokens:   400,
		Temperature: 0.4,
	})
	if err != nil {
		return ports.Generation{}, err
	}
	if strings.TrimSpace(gen.Text) == "" {
		return ports.Generation{}, apperr.Unavailable("model returned an empty reply", nil)
	}
	gen.Text = strings.TrimSpace(gen.Text)
	return gen, nil
}

func (o *Orchestrator) writeBack(ctx context.Context, r *run) {
	if o.deps.Vectors == nil {
		return
	}
	exchange := fmt.Sprintf("Customer: %s\nAssistant: %s", r.text, r.reply.Text)
	if _, err := o.deps.Vectors.Add(ctx, r.conv.ID, exchange, map[string]any{"intent": string(r.intent)}); err != nil {
		o.degrade(ctx, StageWriteBack, r.conv.ID, err)
	}
}

// persistOutbound never fails the job: the reply is already delivered and a
// retry would send it twice.
func (o *Orchestrator) persistOutbound(ctx context.Context, r *run, messageID string) {
	now := o.now().UTC()
	if _, err := o.deps.Store.AppendMessage(ctx, domain.Message{
		ConversationID: r.conv.ID,
		Direction:      domain.DirectionOutbound,
		Content:        r.reply.Text,
		ExternalID:     messageID,
		CreatedAt:      now,
	}); err != nil {
		o.degrade(ctx, StagePersistOutbound, r.conv.ID, err)
	}

	r.mu.Lock()
	calls := append([]domain.LLMInteraction(nil), r.calls...)
	r.mu.Unlock()
	for _, call := range calls {
		if err := o.deps.Store.RecordLLMInteraction(ctx, call); err != nil {
			o.degrade(ctx, StagePersistOutbound, r.conv.ID, err)
		}
	}
}

func (o *Orchestrator) escalationTrigger(r *run) string {
	if r.conv.Handoff != domain.HandoffActiveBot {
		return ""
	}
	threshold := o.settings.HandoffThreshold
	switch {
	case r.urgent:
		return ports.TriggerUrgency
	case r.intent == domain.IntentHumanRequest:
		return ports.TriggerHumanRequest
	case r.before < threshold && r.after >= threshold:
		return ports.TriggerScoreThreshold
	case o.deps.Prompts.SignalsConfusion(r.reply.Text):
		return ports.TriggerBotConfusion
	}
	return ""
}

func (o *Orchestrator) notifyOperator(ctx context.Context, r *run) {
	if o.deps.Notifier == nil || r.conv.AssignedOperatorID == nil {
		return
	}
	o.deps.Notifier.Notify(ctx, *r.conv.AssignedOperatorID, "conversation.message", map[string]any{
		"conversationId": r.conv.ID.String(),
		"contact":        r.conv.ContactName,
		"phone":          r.conv.ContactPhone,
		"text":           r.text,
	})
}

// sendFallback generates a short apology with no context and sends it. Both
// steps get one retry; a static apology covers a failing model.
func (o *Orchestrator) sendFallback(ctx context.Context, chatID string) (string, bool) {
	text := o.deps.Prompts.Fallback.Static
	for range 2 {
		gen, err := o.deps.LLM.Generate(ctx, ports.GenerateRequest{
			Purpose:   "fallback",
			System:    o.deps.Prompts.Fallback.System,
			Prompt:    o.deps.Prompts.Fallback.Prompt,
			MaxTokens: 80,
		})
		if err == nil && strings.TrimSpace(gen.Text) != "" {
			text = strings.TrimSpace(gen.Text)
			break
		}
	}

	var lastErr error
	for range 2 {
		if _, err := o.deps.Gateway.SendText(ctx, chatID, text); err != nil {
			lastErr = err
			continue
		}
		metrics.FallbackResponses.Inc()
		return text, true
	}
	o.log.WithContext(ctx).Error("fallback response not delivered", "chatId", chatID, "error", lastErr)
	return text, false
}

// generate calls the model and keeps an audit entry for the call.
func (o *Orchestrator) generate(ctx context.Context, r *run, req ports.GenerateRequest) (ports.Generation, error) {
	gen, err := o.deps.LLM.Generate(ctx, req)
	if err != nil {
		return ports.Generation{}, err
	}
	r.mu.Lock()
	r.calls = append(r.calls, domain.LLMInteraction{
		ConversationID: r.conv.ID,
		Purpose:        req.Purpose,
		PromptChars:    len(req.Prompt),
		ResponseChars:  len(gen.Text),
		TokensUsed:     gen.TokensUsed,
		LatencyMs:      gen.Latency.Milliseconds(),
		CreatedAt:      o.now().UTC(),
	})
	r.mu.Unlock()
	return gen, nil
}

func (o *Orchestrator) degrade(ctx context.Context, stage string, conversationID uuid.UUID, err error) {
	metrics.StageDegraded.WithLabelValues(stage).Inc()
	o.log.WithContext(ctx).Warn("pipeline stage degraded", "stage", stage, "conversationId", conversationID, "error", err)
}

func isAffirmative(answer string) bool {
	a := strings.ToUpper(strings.TrimSpace(answer))
	return strings.HasPrefix(a, "YES") || strings.HasPrefix(a, "JA")
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// IsStage reports whether err failed in stage.
func IsStage(err error, stage string) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == stage
}
