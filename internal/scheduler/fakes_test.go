package scheduler

import (
	"context"
	"sync"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/jobs"
	"chatflow_backend/platform/apperr"

	"github.com/google/uuid"
)

var fixedNow = time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type memStore struct {
	mu        sync.Mutex
	convs     map[uuid.UUID]domain.Conversation
	messages  []domain.Message
	reengaged map[uuid.UUID]time.Time
	idle      []uuid.UUID
	mutateErr error
	appendErr error
	lastSince time.Time
}

func newMemStore() *memStore {
	return &memStore{convs: map[uuid.UUID]domain.Conversation{}, reengaged: map[uuid.UUID]time.Time{}}
}

func (s *memStore) add(conv domain.Conversation) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv
	s.idle = append(s.idle, conv.ID)
	return conv
}

func (s *memStore) get(id uuid.UUID) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[id]
}

func (s *memStore) GetConversation(_ context.Context, id uuid.UUID) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	return conv, nil
}

func (s *memStore) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return domain.Message{}, s.appendErr
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) ListReengagementCandidates(_ context.Context, idleSince time.Time, limit int) ([]domain.Conversation, error) {
	return s.list(idleSince, limit), nil
}

func (s *memStore) ListStaleConversations(_ context.Context, idleSince time.Time, limit int) ([]domain.Conversation, error) {
	return s.list(idleSince, limit), nil
}

func (s *memStore) list(idleSince time.Time, limit int) []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSince = idleSince
	var out []domain.Conversation
	for _, id := range s.idle {
		if len(out) == limit {
			break
		}
		out = append(out, s.convs[id])
	}
	return out
}

func (s *memStore) MarkReengaged(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reengaged[id] = at
	return nil
}

func (s *memStore) MutateConversation(_ context.Context, id uuid.UUID, fn func(*domain.Conversation) error) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutateErr != nil {
		return domain.Conversation{}, s.mutateErr
	}
	conv, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	if err := fn(&conv); err != nil {
		return domain.Conversation{}, err
	}
	s.convs[id] = conv
	return conv, nil
}

type sentText struct {
	chatID string
	text   string
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (g *fakeGateway) SendText(_ context.Context, chatID, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, sentText{chatID: chatID, text: text})
	return "wamid-" + chatID, nil
}

type fakeMemory struct {
	deleted []uuid.UUID
	err     error
}

func (m *fakeMemory) Delete(_ context.Context, conversationID uuid.UUID) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.deleted = append(m.deleted, conversationID)
	return 3, nil
}

type fakePurger struct {
	before time.Time
}

func (p *fakePurger) PurgeDelivered(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return 2, nil
}

type delayedJob struct {
	queue string
	job   jobs.Job
	when  time.Time
}

type recordingEnqueuer struct {
	enqueued []delayedJob
}

func (e *recordingEnqueuer) EnqueueAt(_ context.Context, queue string, job jobs.Job, when time.Time) (string, error) {
	e.enqueued = append(e.enqueued, delayedJob{queue: queue, job: job, when: when})
	return job.ID, nil
}

type greeting struct{}

func (greeting) ReengagementText(contact string) string { return "Hoi " + contact }

func conversationFor(chatID, name string, status domain.Status) domain.Conversation {
	conv := domain.NewConversation(chatID, "+31612345678", name, uuid.New(), fixedNow.Add(-48*time.Hour))
	conv.Status = status
	return conv
}
