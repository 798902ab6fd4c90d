package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ragserve/internal/agent"
	"ragserve/internal/rag"
	"ragserve/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxContextTokens is the input token budget applied when trimming chat
	// history. Defaults to [budget.DefaultMaxContextTokens] if zero.
	MaxContextTokens int
	// Registry receives the server's Prometheus metrics and backs GET /metrics.
	// If nil a private registry is created, keeping unit tests hermetic.
	Registry *prometheus.Registry
}

// chatAgent is the surface the chat handlers consume. *agent.ChatAgent
// satisfies it; tests inject a fake.
type chatAgent interface {
	// Generate returns the full completion for prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	// StreamChat streams the completion for prompt, preceded by turns,
	// invoking onToken per chunk.
	StreamChat(ctx context.Context, turns []agent.Turn, prompt string, onToken func(token string) error) error
	// SystemPrompt returns the current system prompt.
	SystemPrompt() string
	// UpdateSystemPrompt replaces the system prompt for subsequent requests.
	UpdateSystemPrompt(prompt string)
	// ModelName returns the model identifier reported in envelopes.
	ModelName() string
}

// Deps bundles the service dependencies the HTTP layer orchestrates.
type Deps struct {
	// Agent is the chat-completion agent. Required.
	Agent chatAgent
	// Retriever resolves queries to relevant document chunks. Required.
	Retriever rag.Retriever
	// Store is the lazily-initialised vector store backing the document
	// endpoints. Required.
	Store *rag.Lazy
	// Embedder converts document text to vectors for upload and search. Required.
	Embedder rag.Embedder
	// Transcripts persists chat turns per session ID. Optional; when nil,
	// session persistence is disabled.
	Transcripts store.TranscriptStore
}

// Server is the HTTP server that fronts the RAG chat service.
type Server struct {
	// agent handles chat generation and streaming.
	agent chatAgent
	// retriever resolves queries against the vector store.
	retriever rag.Retriever
	// store is the lazily-initialised vector store for document CRUD.
	store *rag.Lazy
	// embedder embeds uploaded documents and search queries.
	embedder rag.Embedder
	// transcripts records chat turns per session; nil when disabled.
	transcripts store.TranscriptStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatMessage is one turn in a chat request or response envelope.
type chatMessage struct {
	// Role is the author: "user", "assistant", or "system".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Messages is the conversation so far; the final entry is the current
	// user question. Must be non-empty.
	Messages []chatMessage `json:"messages"`
	// Model is accepted for API compatibility. The backend is fixed per
	// deployment; response envelopes always report the configured model.
	Model string `json:"model,omitempty"`
	// Temperature is accepted for API compatibility; the value is baked into
	// the backend at provider-construction time.
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens is accepted for API compatibility, same as Temperature.
	MaxTokens *int `json:"maxTokens,omitempty"`
	// UseRAG enables retrieval augmentation of the final user message.
	UseRAG bool `json:"useRag"`
	// RAGLimit is the requested number of retrieved chunks. Clamped to
	// [1, 10]; non-positive values select the default of 3.
	RAGLimit int `json:"ragLimit"`
	// Session is an opaque session ID. When set and transcript persistence is
	// enabled, the exchange is recorded under it.
	Session string `json:"session,omitempty"`
}

// streamChunk is one SSE data frame of an in-progress completion.
type streamChunk struct {
	// ID is the completion ID, shared by every frame of one response.
	ID string `json:"id"`
	// Object is always "chat.completion.chunk".
	Object string `json:"object"`
	// Created is the Unix timestamp of the response.
	Created int64 `json:"created"`
	// Model is the configured model identifier.
	Model string `json:"model"`
	// Choices carries the incremental content.
	Choices []chunkChoice `json:"choices"`
}

// chunkChoice is the single choice within a streamChunk.
type chunkChoice struct {
	// Index is always 0; one choice is produced per request.
	Index int `json:"index"`
	// Delta holds the new content since the previous frame.
	Delta chatDelta `json:"delta"`
}

// chatDelta is the incremental content of a chunkChoice.
type chatDelta struct {
	// Content is the token text. Empty deltas are never emitted.
	Content string `json:"content,omitempty"`
}

// completionEnvelope is the final SSE frame summarising the full response,
// sent after the last chunk and before the [DONE] sentinel.
type completionEnvelope struct {
	// ID is the completion ID, matching the preceding chunks.
	ID string `json:"id"`
	// Object is always "chat.completion".
	Object string `json:"object"`
	// Created is the Unix timestamp of the response.
	Created int64 `json:"created"`
	// Model is the configured model identifier.
	Model string `json:"model"`
	// Choices holds the single assembled choice.
	Choices []completionChoice `json:"choices"`
}

// completionChoice is the single choice within a completionEnvelope.
type completionChoice struct {
	// Index is always 0.
	Index int `json:"index"`
	// Message is the complete assistant message.
	Message chatMessage `json:"message"`
	// FinishReason is "stop" for a normally completed stream.
	FinishReason string `json:"finishReason"`
}

// chatHealthResponse is the JSON body for GET /api/chat/health.
type chatHealthResponse struct {
	// Status is "healthy" when the backend answered the probe.
	Status string `json:"status"`
	// Model is the configured model identifier.
	Model string `json:"model,omitempty"`
	// Error is the probe failure reason when Status is "unhealthy".
	Error string `json:"error,omitempty"`
}

// systemPromptBody is the JSON body for GET and PUT /api/chat/system-prompt.
type systemPromptBody struct {
	// Prompt is the system prompt text. An empty value on PUT restores the
	// default prompt.
	Prompt string `json:"prompt"`
}

// documentUpload is the JSON body for POST /api/documents.
type documentUpload struct {
	// ID is an optional caller-supplied document ID. Must be a UUID; one is
	// generated when omitted.
	ID string `json:"id,omitempty"`
	// Content is the document text. Required.
	Content string `json:"content"`
	// Metadata is optional caller-supplied metadata stored with the document.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// uploadResponse is the JSON response for POST /api/documents.
type uploadResponse struct {
	// ID is the stored document ID (the parent ID when chunked).
	ID string `json:"id"`
	// Chunks is the number of stored chunks; 1 unless the content exceeded
	// the chunking threshold.
	Chunks int `json:"chunks"`
}

// documentResponse is the JSON shape of a stored document.
type documentResponse struct {
	// ID is the document ID.
	ID string `json:"id"`
	// Content is the document text.
	Content string `json:"content"`
	// Metadata is the stored metadata, if any.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// documentUpdate is the JSON body for PUT /api/documents/{id}.
type documentUpdate struct {
	// Content replaces the document text when non-empty (triggers re-embedding).
	Content string `json:"content,omitempty"`
	// Metadata entries are merged over the existing metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// listResponse is the JSON response for GET /api/documents.
type listResponse struct {
	// Documents is the requested page.
	Documents []documentResponse `json:"documents"`
	// Limit is the applied page size.
	Limit int `json:"limit"`
	// Offset is the applied page offset.
	Offset int `json:"offset"`
}

// countResponse is the JSON response for GET /api/documents/count.
type countResponse struct {
	// Count is the total number of stored documents (chunks count individually).
	Count uint64 `json:"count"`
}

// searchRequest is the JSON body for POST /api/documents/search.
type searchRequest struct {
	// Query is the natural-language search text. Required.
	Query string `json:"query"`
	// Limit is the maximum number of results. Defaults to 5, capped at 20.
	Limit int `json:"limit,omitempty"`
}

// searchHit is one result of POST /api/documents/search.
type searchHit struct {
	// ID is the matching document ID.
	ID string `json:"id"`
	// Content is the matching document text.
	Content string `json:"content"`
	// Metadata is the stored metadata, if any.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Score is the similarity score in [0, 1]; higher is more similar.
	Score float32 `json:"score"`
}

// searchResponse is the JSON response for POST /api/documents/search.
type searchResponse struct {
	// Results is ordered by descending score.
	Results []searchHit `json:"results"`
}

// statusResponse is the generic JSON acknowledgement for mutations.
type statusResponse struct {
	// Status names the completed action, e.g. "deleted" or "cleared".
	Status string `json:"status"`
}
