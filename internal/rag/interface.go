// Package rag defines the building blocks of the retrieval-augmented
// generation pipeline: the document model, the vector store client, the
// embedding provider, and the context retriever. Concrete implementations
// (Qdrant, hash/Ollama/OpenAI embedders) satisfy these interfaces so the
// chat layer never depends on a specific backend.
package rag

import (
	"context"
)

// Document is a unit of stored or retrieved knowledge.
type Document struct {
	// ID is the unique identifier of the document within its collection.
	ID string

	// Content is the raw text content. Never empty for a stored document.
	Content string

	// Metadata holds arbitrary key-value pairs. The service always records a
	// "created" timestamp on upload and adds "updated" on mutation.
	Metadata map[string]string
}

// SearchResult pairs a retrieved Document with its similarity score.
type SearchResult struct {
	// Document is the matched document.
	Document Document

	// Score is the similarity score in [0,1], derived as 1 - distance and
	// clamped defensively because the store does not guarantee bounded
	// distances.
	Score float32
}

// VectorStore is the client interface to a networked vector database.
// The store is the single source of truth for documents; the service keeps
// no independent copy. Implementations must be safe to call from multiple
// goroutines.
type VectorStore interface {
	// Heartbeat reports whether the store is reachable.
	Heartbeat(ctx context.Context) error

	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. embeddings[i] is the vector for docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search returns the topK most similar documents for the query embedding,
	// ordered highest score first. Fewer than topK results are returned when
	// the collection holds fewer matches; the result is never padded.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]SearchResult, error)

	// Get fetches documents by ID. Unknown IDs are omitted from the result.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// List pages through stored documents.
	List(ctx context.Context, limit, offset int) ([]Document, error)

	// UpdatePayload replaces the stored content/metadata of an existing
	// document without touching its vector. Use Upsert when the content (and
	// therefore the embedding) changed.
	UpdatePayload(ctx context.Context, doc Document) error

	// Delete removes documents by ID. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of documents in the collection.
	Count(ctx context.Context) (uint64, error)

	// Clear removes every document from the collection.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings of a fixed dimension.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches ranked document context for a query. Retrieval is a
// best-effort augmentation: implementations never return an error — any
// embedding or store failure degrades to an empty result so the chat request
// can still be answered without document grounding.
type Retriever interface {
	// Retrieve returns up to limit results for the query, highest score first.
	Retrieve(ctx context.Context, query string, limit int) []SearchResult
}
