package rag

import (
	"context"
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// stubStore implements VectorStore for retriever tests. Only Search matters;
// the rest are inert.
type stubStore struct {
	// results is returned from Search.
	results []SearchResult
	// searchErr is returned from Search when non-nil.
	searchErr error
	// gotTopK captures the last topK passed to Search.
	gotTopK int
}

func (s *stubStore) Heartbeat(context.Context) error { return nil }
func (s *stubStore) Upsert(context.Context, []Document, [][]float32) error {
	return nil
}

func (s *stubStore) Search(_ context.Context, _ []float32, topK int) ([]SearchResult, error) {
	s.gotTopK = topK
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.results, nil
}

func (s *stubStore) Get(context.Context, []string) ([]Document, error)  { return nil, nil }
func (s *stubStore) List(context.Context, int, int) ([]Document, error) { return nil, nil }
func (s *stubStore) UpdatePayload(context.Context, Document) error      { return nil }
func (s *stubStore) Delete(context.Context, []string) error             { return nil }
func (s *stubStore) Count(context.Context) (uint64, error)              { return 0, nil }
func (s *stubStore) Clear(context.Context) error                        { return nil }
func (s *stubStore) Close() error                                       { return nil }

// stubEmbedder implements Embedder with a fixed vector or error.
type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func readyLazy(store VectorStore) *Lazy {
	return NewLazy(func(context.Context) (VectorStore, error) { return store, nil })
}

// ---------------------------------------------------------------------------
// ClampLimit
// ---------------------------------------------------------------------------

func TestClampLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   int
		want int
	}{
		{-1, DefaultLimit},
		{0, DefaultLimit},
		{1, 1},
		{5, 5},
		{10, 10},
		{11, MaxLimit},
		{1000, MaxLimit},
	}

	for _, tc := range cases {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Retrieve
// ---------------------------------------------------------------------------

func TestRetrieve_ReturnsStoreResults(t *testing.T) {
	t.Parallel()

	store := &stubStore{results: []SearchResult{
		{Document: Document{ID: "a", Content: "alpha"}, Score: 0.9},
		{Document: Document{ID: "b", Content: "beta"}, Score: 0.4},
	}}
	r, err := NewRetriever(&stubEmbedder{}, readyLazy(store))
	if err != nil {
		t.Fatal(err)
	}

	got := r.Retrieve(context.Background(), "query", 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Document.ID != "a" || got[0].Score != 0.9 {
		t.Errorf("unexpected first result: %+v", got[0])
	}
	if store.gotTopK != 5 {
		t.Errorf("expected topK 5, got %d", store.gotTopK)
	}
}

func TestRetrieve_ClampsLimit(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	r, _ := NewRetriever(&stubEmbedder{}, readyLazy(store))

	r.Retrieve(context.Background(), "q", 0)
	if store.gotTopK != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, store.gotTopK)
	}

	r.Retrieve(context.Background(), "q", 50)
	if store.gotTopK != MaxLimit {
		t.Errorf("expected max limit %d, got %d", MaxLimit, store.gotTopK)
	}
}

func TestRetrieve_DegradesOnStoreInitFailure(t *testing.T) {
	t.Parallel()

	lazy := NewLazy(func(context.Context) (VectorStore, error) {
		return nil, fmt.Errorf("qdrant unreachable")
	})
	r, _ := NewRetriever(&stubEmbedder{}, lazy)

	if got := r.Retrieve(context.Background(), "q", 3); got != nil {
		t.Errorf("expected nil on init failure, got %v", got)
	}
}

func TestRetrieve_DegradesOnEmbedFailure(t *testing.T) {
	t.Parallel()

	r, _ := NewRetriever(&stubEmbedder{err: fmt.Errorf("backend down")}, readyLazy(&stubStore{}))

	if got := r.Retrieve(context.Background(), "q", 3); got != nil {
		t.Errorf("expected nil on embed failure, got %v", got)
	}
}

func TestRetrieve_DegradesOnSearchFailure(t *testing.T) {
	t.Parallel()

	store := &stubStore{searchErr: fmt.Errorf("collection missing")}
	r, _ := NewRetriever(&stubEmbedder{}, readyLazy(store))

	if got := r.Retrieve(context.Background(), "q", 3); got != nil {
		t.Errorf("expected nil on search failure, got %v", got)
	}
}

func TestNewRetriever_NilDeps(t *testing.T) {
	t.Parallel()

	if _, err := NewRetriever(nil, readyLazy(&stubStore{})); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewRetriever(&stubEmbedder{}, nil); err == nil {
		t.Error("expected error for nil store")
	}
}

// ---------------------------------------------------------------------------
// ClampScore
// ---------------------------------------------------------------------------

func TestClampScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   float32
		want float32
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}

	for _, tc := range cases {
		if got := ClampScore(tc.in); got != tc.want {
			t.Errorf("ClampScore(%f) = %f, want %f", tc.in, got, tc.want)
		}
	}
}
