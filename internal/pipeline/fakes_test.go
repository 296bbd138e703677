package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

type memStore struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]domain.Conversation
	byChat   map[string]uuid.UUID
	leads    map[uuid.UUID]domain.Lead
	messages []domain.Message
	llmCalls []domain.LLMInteraction
	scores   []ports.ScoreChange
	scored   map[string][2]int
}

func newMemStore() *memStore {
	return &memStore{
		convs:  map[uuid.UUID]domain.Conversation{},
		byChat: map[string]uuid.UUID{},
		leads:  map[uuid.UUID]domain.Lead{},
		scored: map[string][2]int{},
	}
}

func (s *memStore) seed(conv domain.Conversation, lead domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.LeadID = lead.ID
	s.convs[conv.ID] = conv
	s.byChat[conv.ExternalChatID] = conv.ID
	s.leads[lead.ID] = lead
}

func (s *memStore) conversation(chatID string) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[s.byChat[chatID]]
}

func (s *memStore) lead(id uuid.UUID) domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leads[id]
}

func (s *memStore) GetOrCreateConversation(_ context.Context, p ports.NewConversationParams) (domain.Conversation, domain.Lead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byChat[p.ExternalChatID]; ok {
		c := s.convs[id]
		return c, s.leads[c.LeadID], false, nil
	}
	lead := domain.NewLead()
	conv := domain.NewConversation(p.ExternalChatID, p.ContactPhone, p.ContactName, lead.ID, time.Now().UTC())
	s.convs[conv.ID] = conv
	s.byChat[conv.ExternalChatID] = conv.ID
	s.leads[lead.ID] = lead
	return conv, lead, true, nil
}

func (s *memStore) MutateConversation(_ context.Context, id uuid.UUID, fn func(*domain.Conversation) error) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	if err := fn(&c); err != nil {
		return domain.Conversation{}, err
	}
	s.convs[id] = c
	return c, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status) (domain.Conversation, error) {
	return s.MutateConversation(ctx, id, func(c *domain.Conversation) error { return c.TransitionTo(status) })
}

func (s *memStore) UpdateScore(_ context.Context, change ports.ScoreChange) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[change.LeadID]
	if !ok {
		return 0, 0, apperr.NotFound("lead not found")
	}
	key := change.LeadID.String() + "/" + change.SourceMessageID
	if change.SourceMessageID != "" {
		if prev, seen := s.scored[key]; seen {
			return prev[0], prev[1], nil
		}
	}
	before, after := l.ApplyDelta(change.Delta)
	s.leads[change.LeadID] = l
	s.scores = append(s.scores, change)
	if change.SourceMessageID != "" {
		s.scored[key] = [2]int{before, after}
	}
	return before, after, nil
}

func (s *memStore) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.New()
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID uuid.UUID, _ int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) RecordLLMInteraction(_ context.Context, e domain.LLMInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmCalls = append(s.llmCalls, e)
	return nil
}

// scriptedLLM answers per purpose.
type scriptedLLM struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   []string
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		answers: map[string]string{
			StageUrgency:  "YES",
			StageIntent:   "GREETING",
			StageGenerate: "Hallo! Waarmee kan ik je helpen?",
			"fallback":    "Sorry, we komen zo bij je terug.",
		},
		errs: map[string]error{},
	}
}

func (l *scriptedLLM) Generate(_ context.Context, req ports.GenerateRequest) (ports.Generation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, req.Purpose)
	if err := l.errs[req.Purpose]; err != nil {
		return ports.Generation{}, err
	}
	return ports.Generation{Text: l.answers[req.Purpose], TokensUsed: 12, Latency: 20 * time.Millisecond}, nil
}

func (l *scriptedLLM) called(purpose string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == purpose {
			n++
		}
	}
	return n
}

type recordingGateway struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (g *recordingGateway) SendText(_ context.Context, _, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, text)
	return "3EB0" + uuid.NewString()[:6], nil
}

type fakeVectors struct {
	queryErr error
	docs     []ports.ContextDoc
	added    []string
}

func (v *fakeVectors) Add(_ context.Context, _ uuid.UUID, text string, _ map[string]any) (string, error) {
	v.added = append(v.added, text)
	return uuid.NewString(), nil
}

func (v *fakeVectors) Query(context.Context, string, *uuid.UUID, int) ([]ports.ContextDoc, error) {
	if v.queryErr != nil {
		return nil, v.queryErr
	}
	return v.docs, nil
}

func (v *fakeVectors) GetContext(context.Context, uuid.UUID, int) ([]ports.ContextDoc, error) {
	return v.docs, nil
}

func (v *fakeVectors) Delete(context.Context, uuid.UUID) (int, error) { return 0, nil }

type recordingEnqueuer struct {
	mu          sync.Mutex
	ai          []any
	escalations []ports.EscalationRequest
	err         error
}

func (e *recordingEnqueuer) EnqueueAIProcessing(_ context.Context, payload any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.ai = append(e.ai, payload)
	return uuid.NewString(), nil
}

func (e *recordingEnqueuer) EnqueueEscalation(_ context.Context, payload any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	req, ok := payload.(ports.EscalationRequest)
	if !ok {
		return "", errors.New("unexpected escalation payload")
	}
	e.escalations = append(e.escalations, req)
	return uuid.NewString(), nil
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(context.Context, string, string) (string, error) {
	return "", apperr.Timeout("transcription timed out", nil)
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, kind string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

type recordingEscalator struct {
	mu       sync.Mutex
	requests []ports.EscalationRequest
	err      error
}

func (e *recordingEscalator) Escalate(_ context.Context, req ports.EscalationRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return e.err
}

type harness struct {
	store     *memStore
	llm       *scriptedLLM
	gateway   *recordingGateway
	vectors   *fakeVectors
	enqueuer  *recordingEnqueuer
	notifier  *recordingNotifier
	escalator *recordingEscalator
	orch      *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		store:     newMemStore(),
		llm:       newScriptedLLM(),
		gateway:   &recordingGateway{},
		vectors:   &fakeVectors{},
		enqueuer:  &recordingEnqueuer{},
		notifier:  &recordingNotifier{},
		escalator: &recordingEscalator{},
	}
	h.orch = NewOrchestrator(Deps{
		Store:     h.store,
		LLM:       h.llm,
		Gateway:   h.gateway,
		Enqueuer:  h.enqueuer,
		Vectors:   h.vectors,
		Notifier:  h.notifier,
		Escalator: h.escalator,
		Log:       logger.Nop(),
	}, Settings{})
	return h
}

func textInbound(chatID, text string) Inbound {
	return Inbound{ChatID: chatID, ContactPhone: "+31612345678", ContactName: "Sanne", Content: domain.Text{Body: text}}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
