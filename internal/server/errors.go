package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"ragserve/internal/logging"
	"ragserve/internal/rag"
)

// API error codes surfaced in error envelopes. Stable contract — clients
// switch on these, not on message text.
const (
	// codeValidation marks a malformed or incomplete request (400).
	codeValidation = "validation_error"
	// codeNotFound marks a missing document (404).
	codeNotFound = "not_found"
	// codeStoreUnavailable marks a vector store that could not be reached or
	// initialised (503).
	codeStoreUnavailable = "store_unavailable"
	// codeStoreError marks a vector store operation failure (500).
	codeStoreError = "store_error"
	// codeEmbedding marks an embedding backend failure (502).
	codeEmbedding = "embedding_error"
	// codeLLM marks a chat backend failure (502, or an in-band SSE frame).
	codeLLM = "llm_error"
)

// apiError is the error payload inside an errorEnvelope.
type apiError struct {
	// Message is a human-readable description of the failure.
	Message string `json:"message"`
	// Code is the machine-readable error code.
	Code string `json:"code"`
}

// errorEnvelope is the JSON body of every non-2xx API response, and of
// in-band SSE error frames.
type errorEnvelope struct {
	Error apiError `json:"error"`
}

// writeError writes an error envelope with the given status, code, and message.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Message: message, Code: code}})
}

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode errors here mean the client is gone; nothing useful to do.
	_ = json.NewEncoder(w).Encode(v)
}

// vectorStore resolves the lazily-initialised vector store for a request,
// writing a 503 error envelope and returning nil when initialisation fails.
// A failed attempt does not latch: the next request triggers a fresh one.
func (s *Server) vectorStore(w http.ResponseWriter, r *http.Request) rag.VectorStore {
	st, err := s.store.Get(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("vector store unavailable", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "vector store unavailable")
		return nil
	}
	return st
}
