package rag

import (
	"context"
	"fmt"
	"log/slog"

	"ragserve/internal/logging"
)

const (
	// DefaultLimit is the number of results returned when the caller passes a
	// limit below 1.
	DefaultLimit = 3

	// MaxLimit caps the number of results a single retrieval may request.
	MaxLimit = 10
)

// ClampLimit bounds a requested result count into [1, MaxLimit], substituting
// DefaultLimit for values below 1.
func ClampLimit(limit int) int {
	if limit < 1 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// DefaultRetriever implements Retriever over an Embedder and a lazily
// initialised VectorStore. It embeds the query at retrieval time and
// delegates similarity search to the store.
//
// Failures never propagate: losing the document grounding should degrade the
// request to a plain chat answer, not fail it. Every failure path logs a
// warning and returns an empty result.
type DefaultRetriever struct {
	// embedder converts the query text to a dense vector.
	embedder Embedder

	// store is the lazy vector store handle shared across requests.
	store *Lazy
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and
// lazy store handle.
func NewRetriever(embedder Embedder, store *Lazy) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	return &DefaultRetriever{embedder: embedder, store: store}, nil
}

// Retrieve embeds the query and returns up to limit results, highest score
// first. The limit is clamped into [1, MaxLimit] (default 3). On any failure
// it returns an empty slice — never an error.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, limit int) []SearchResult {
	log := logging.FromContext(ctx)
	limit = ClampLimit(limit)

	store, err := r.store.Get(ctx)
	if err != nil {
		log.Warn("retrieval degraded: vector store unavailable", slog.Any("error", err))
		return nil
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		log.Warn("retrieval degraded: query embedding failed", slog.Any("error", err))
		return nil
	}
	if len(embeddings) == 0 {
		log.Warn("retrieval degraded: embedder returned no vector for query")
		return nil
	}

	results, err := store.Search(ctx, embeddings[0], limit)
	if err != nil {
		log.Warn("retrieval degraded: vector search failed", slog.Any("error", err))
		return nil
	}

	return results
}
