// Package vectorstore keeps semantic conversation memory in Qdrant, with
// vectors produced by the embedding API.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/qdrant"

	"github.com/google/uuid"
)

const (
	fieldConversationID = "conversation_id"
	fieldText           = "text"
	fieldCreatedAt      = "created_at"

	scrollWindow = 200
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the subset of the Qdrant client used here.
type Index interface {
	Upsert(ctx context.Context, points []qdrant.Point) error
	Search(ctx context.Context, vector []float32, limit int, filter *qdrant.Filter) ([]qdrant.SearchResult, error)
	Scroll(ctx context.Context, filter *qdrant.Filter, limit int) ([]qdrant.Point, error)
	Count(ctx context.Context, filter *qdrant.Filter) (int, error)
	DeleteByFilter(ctx context.Context, filter *qdrant.Filter) error
}

// Memory implements ports.VectorStore.
type Memory struct {
	index    Index
	embedder Embedder
	now      func() time.Time
}

var _ ports.VectorStore = (*Memory)(nil)

func New(index Index, embedder Embedder) *Memory {
	return &Memory{index: index, embedder: embedder, now: time.Now}
}

// Add stores text for the conversation and returns the document id.
func (m *Memory) Add(ctx context.Context, conversationID uuid.UUID, text string, metadata map[string]any) (string, error) {
	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return "", err
	}

	payload := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		payload[k] = v
	}
	payload[fieldConversationID] = conversationID.String()
	payload[fieldText] = text
	payload[fieldCreatedAt] = m.now().UTC().UnixMilli()

	id := uuid.NewString()
	if err := m.index.Upsert(ctx, []qdrant.Point{{ID: id, Vector: vector, Payload: payload}}); err != nil {
		return "", err
	}
	return id, nil
}

// Query returns the topK documents most similar to text, optionally limited to
// one conversation.
func (m *Memory) Query(ctx context.Context, text string, conversationID *uuid.UUID, topK int) ([]ports.ContextDoc, error) {
	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	var filter *qdrant.Filter
	if conversationID != nil {
		filter = qdrant.FieldEquals(fieldConversationID, conversationID.String())
	}

	results, err := m.index.Search(ctx, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	docs := make([]ports.ContextDoc, 0, len(results))
	for _, r := range results {
		docs = append(docs, toDoc(fmt.Sprint(r.ID), r.Payload, r.Score))
	}
	return docs, nil
}

// GetContext returns the latest limit documents of a conversation, oldest first.
func (m *Memory) GetContext(ctx context.Context, conversationID uuid.UUID, limit int) ([]ports.ContextDoc, error) {
	if limit <= 0 {
		return nil, apperr.Validation("context limit must be positive")
	}
	points, err := m.index.Scroll(ctx, qdrant.FieldEquals(fieldConversationID, conversationID.String()), scrollWindow)
	if err != nil {
		return nil, err
	}

	docs := make([]ports.ContextDoc, 0, len(points))
	for _, p := range points {
		docs = append(docs, toDoc(p.ID, p.Payload, 0))
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return createdAt(docs[i]) < createdAt(docs[j])
	})
	if len(docs) > limit {
		docs = docs[len(docs)-limit:]
	}
	return docs, nil
}

// Delete removes all documents of a conversation and reports how many there were.
func (m *Memory) Delete(ctx context.Context, conversationID uuid.UUID) (int, error) {
	filter := qdrant.FieldEquals(fieldConversationID, conversationID.String())
	count, err := m.index.Count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if err := m.index.DeleteByFilter(ctx, filter); err != nil {
		return 0, err
	}
	return count, nil
}

func toDoc(id string, payload map[string]any, score float64) ports.ContextDoc {
	text, _ := payload[fieldText].(string)
	return ports.ContextDoc{ID: id, Text: text, Metadata: payload, Score: score}
}

func createdAt(doc ports.ContextDoc) float64 {
	switch v := doc.Metadata[fieldCreatedAt].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
