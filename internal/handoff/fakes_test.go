package handoff

import (
	"context"
	"sync"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/events"

	"github.com/google/uuid"
)

type memStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]domain.Conversation
	operators     map[uuid.UUID]domain.Operator
}

func newMemStore() *memStore {
	return &memStore{
		conversations: map[uuid.UUID]domain.Conversation{},
		operators:     map[uuid.UUID]domain.Operator{},
	}
}

func (s *memStore) addConversation(c domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
}

func (s *memStore) addOperator(op domain.Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[op.ID] = op
}

func (s *memStore) GetConversation(_ context.Context, id uuid.UUID) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	return c, nil
}

func (s *memStore) MutateConversation(_ context.Context, id uuid.UUID, fn func(*domain.Conversation) error) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	if err := fn(&c); err != nil {
		return domain.Conversation{}, err
	}
	s.conversations[id] = c
	return c, nil
}

func (s *memStore) GetOperator(_ context.Context, id uuid.UUID) (domain.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	if !ok {
		return domain.Operator{}, apperr.NotFound("operator not found")
	}
	return op, nil
}

func (s *memStore) LeastLoadedOperator(_ context.Context) (domain.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Operator
	for _, op := range s.operators {
		if !op.IsActive {
			continue
		}
		if best == nil || op.OpenLoad < best.OpenLoad {
			candidate := op
			best = &candidate
		}
	}
	if best == nil {
		return domain.Operator{}, apperr.NotFound("no active operator")
	}
	return *best, nil
}

type syncBus struct {
	mu     sync.Mutex
	events []Changed
}

func (b *syncBus) Subscribe(string, events.Handler) {}

func (b *syncBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if changed, ok := e.(Changed); ok {
		b.events = append(b.events, changed)
	}
}

func (b *syncBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *syncBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Name)
	}
	return out
}

type notification struct {
	operatorID uuid.UUID
	kind       string
	payload    map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, operatorID uuid.UUID, kind string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{operatorID: operatorID, kind: kind, payload: payload})
}

func botConversation() domain.Conversation {
	return domain.NewConversation("31612345678@s.whatsapp.net", "+31612345678", "Sanne", uuid.New(), fixedNow)
}

func activeOperator(load int) domain.Operator {
	return domain.Operator{ID: uuid.New(), Name: "Operator", Phone: "+31687654321", IsActive: true, OpenLoad: load}
}
