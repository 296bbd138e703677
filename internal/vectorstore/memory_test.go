package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/qdrant"

	"github.com/google/uuid"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeIndex struct {
	points     []qdrant.Point
	lastFilter *qdrant.Filter
	deleted    bool
}

func (f *fakeIndex) matches(p qdrant.Point, filter *qdrant.Filter) bool {
	if filter == nil {
		return true
	}
	for _, c := range filter.Must {
		if p.Payload[c.Key] != c.Match.Value {
			return false
		}
	}
	return true
}

func (f *fakeIndex) Upsert(_ context.Context, points []qdrant.Point) error {
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, limit int, filter *qdrant.Filter) ([]qdrant.SearchResult, error) {
	f.lastFilter = filter
	var out []qdrant.SearchResult
	for _, p := range f.points {
		if f.matches(p, filter) && len(out) < limit {
			out = append(out, qdrant.SearchResult{ID: p.ID, Score: 0.9, Payload: p.Payload})
		}
	}
	return out, nil
}

func (f *fakeIndex) Scroll(_ context.Context, filter *qdrant.Filter, limit int) ([]qdrant.Point, error) {
	var out []qdrant.Point
	// Reverse order to prove GetContext sorts.
	for i := len(f.points) - 1; i >= 0; i-- {
		if f.matches(f.points[i], filter) && len(out) < limit {
			out = append(out, f.points[i])
		}
	}
	return out, nil
}

func (f *fakeIndex) Count(_ context.Context, filter *qdrant.Filter) (int, error) {
	n := 0
	for _, p := range f.points {
		if f.matches(p, filter) {
			n++
		}
	}
	return n, nil
}

func (f *fakeIndex) DeleteByFilter(_ context.Context, filter *qdrant.Filter) error {
	f.deleted = true
	kept := f.points[:0]
	for _, p := range f.points {
		if !f.matches(p, filter) {
			kept = append(kept, p)
		}
	}
	f.points = kept
	return nil
}

func TestMemoryAddQueryDelete(t *testing.T) {
	ctx := context.Background()
	index := &fakeIndex{}
	mem := New(index, fakeEmbedder{})
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	mem.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	convA, convB := uuid.New(), uuid.New()
	for _, text := range []string{"first", "second", "third"} {
		if _, err := mem.Add(ctx, convA, text, map[string]any{"direction": "pair"}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := mem.Add(ctx, convB, "other", nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	docs, err := mem.Query(ctx, "prijs", &convA, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 3 || index.lastFilter == nil {
		t.Fatalf("expected 3 filtered docs, got %d", len(docs))
	}

	recent, err := mem.GetContext(ctx, convA, 2)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if len(recent) != 2 || recent[0].Text != "second" || recent[1].Text != "third" {
		t.Fatalf("unexpected context %+v", recent)
	}

	n, err := mem.Delete(ctx, convA)
	if err != nil || n != 3 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	if left, _ := index.Count(ctx, nil); left != 1 {
		t.Fatalf("expected other conversation to survive, %d left", left)
	}

	index.deleted = false
	if n, _ := mem.Delete(ctx, convA); n != 0 || index.deleted {
		t.Fatalf("empty delete must not call the index")
	}
}

func TestMemoryPropagatesEmbeddingFailure(t *testing.T) {
	mem := New(&fakeIndex{}, fakeEmbedder{err: apperr.Unavailable("embed", errors.New("down"))})
	_, err := mem.Query(context.Background(), "hallo", nil, 5)
	if !apperr.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
