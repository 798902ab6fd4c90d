package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragserve/internal/agent"
	"ragserve/internal/budget"
	"ragserve/internal/logging"
	"ragserve/internal/rag"
	"ragserve/internal/store"
)

// transcriptHistoryDepth is how many stored turns are replayed into the
// prompt when a session resumes with a bare single-message request.
const transcriptHistoryDepth = 20

// handleChat handles POST /api/chat. The final user message is optionally
// augmented with retrieved document context, sent to the chat backend, and
// the response is streamed back as Server-Sent Events: one
// "chat.completion.chunk" frame per token, a final "chat.completion"
// envelope, then the [DONE] sentinel.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "messages must not be empty")
		return
	}
	question := strings.TrimSpace(req.Messages[len(req.Messages)-1].Content)
	if question == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "final message content must not be empty")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeStoreError, "streaming not supported")
		return
	}

	s.metrics.chatActiveStreams.Inc()
	start := time.Now()
	outcome := "ok"
	defer func() {
		s.metrics.chatActiveStreams.Dec()
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	// Retrieval failures degrade to an unaugmented prompt inside the
	// retriever; BuildPrompt passes the question through untouched when no
	// results arrive.
	prompt := question
	if req.UseRAG {
		results := s.retriever.Retrieve(r.Context(), question, rag.ClampLimit(req.RAGLimit))
		prompt = rag.BuildPrompt(question, results)
		s.metrics.ragChunksRetrieved.Observe(float64(len(results)))
	}

	turns := s.historyTurns(r.Context(), &req, prompt)

	// SSE headers. Nothing is committed until the first write, so early
	// backend failures below can still downgrade to a JSON error envelope.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	completionID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	model := s.agent.ModelName()

	var full strings.Builder
	wroteAny := false

	streamErr := s.agent.StreamChat(r.Context(), turns, prompt, func(token string) error {
		full.WriteString(token)
		s.metrics.chatTokensTotal.Inc()
		chunk := streamChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chunkChoice{{Delta: chatDelta{Content: token}}},
		}
		if err := writeSSE(w, flusher, chunk); err != nil {
			return err
		}
		wroteAny = true
		return nil
	})

	if streamErr != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing left to write.
			outcome = "canceled"
			log.Info("chat stream canceled by client")
			return
		}
		outcome = "error"
		log.Error("chat stream failed", slog.Any("error", streamErr))
		if !wroteAny {
			writeError(w, http.StatusBadGateway, codeLLM, streamErr.Error())
			return
		}
		// Mid-stream failure: the error travels in-band. No final envelope,
		// no [DONE] — the truncated stream is the signal.
		_ = writeSSE(w, flusher, errorEnvelope{Error: apiError{Message: streamErr.Error(), Code: codeLLM}})
		return
	}

	envelope := completionEnvelope{
		ID:      completionID,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []completionChoice{{
			Message:      chatMessage{Role: "assistant", Content: full.String()},
			FinishReason: "stop",
		}},
	}
	if err := writeSSE(w, flusher, envelope); err != nil {
		outcome = "canceled"
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	s.recordTranscript(r.Context(), req.Session, question, full.String())
}

// historyTurns assembles the prior conversation forwarded to the backend:
// request-supplied history when present, otherwise the session's stored
// transcript tail. The result is trimmed to the context budget with the
// system prompt and augmented prompt reserved.
func (s *Server) historyTurns(ctx context.Context, req *chatRequest, prompt string) []agent.Turn {
	history := make([]budget.Message, 0, len(req.Messages)-1)
	for _, m := range req.Messages[:len(req.Messages)-1] {
		history = append(history, budget.Message{Role: m.Role, Content: m.Content})
	}

	if len(history) == 0 && req.Session != "" && s.transcripts != nil {
		stored, err := s.transcripts.Recent(ctx, req.Session, transcriptHistoryDepth)
		if err != nil {
			logging.FromContext(ctx).Warn("transcript replay failed", slog.Any("error", err))
		}
		for _, m := range stored {
			history = append(history, budget.Message{Role: string(m.Role), Content: m.Content})
		}
	}

	fixed := []budget.Message{
		{Role: "system", Content: s.agent.SystemPrompt()},
		{Role: "user", Content: prompt},
	}
	history = budget.TrimHistory(fixed, history, s.cfg.MaxContextTokens)

	turns := make([]agent.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, agent.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// recordTranscript persists one completed exchange under the session ID.
// Persistence failures are logged, never surfaced — the response has already
// streamed.
func (s *Server) recordTranscript(ctx context.Context, session, question, answer string) {
	if session == "" || s.transcripts == nil {
		return
	}
	// The request context may already be done; give persistence its own window.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	log := logging.FromContext(ctx)
	if err := s.transcripts.Append(ctx, session, store.RoleUser, question); err != nil {
		log.Warn("transcript append failed", slog.Any("error", err))
		return
	}
	if err := s.transcripts.Append(ctx, session, store.RoleAssistant, answer); err != nil {
		log.Warn("transcript append failed", slog.Any("error", err))
	}
}

// writeSSE marshals payload and writes it as one SSE data frame, flushing
// immediately so tokens reach the client as they arrive.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// handleChatHealth handles GET /api/chat/health. It sends a minimal generate
// request to the backend; a reply within the probe window means the full
// chat path (transport, auth, model) works.
func (s *Server) handleChatHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	if _, err := s.agent.Generate(ctx, "ping"); err != nil {
		logging.FromContext(r.Context()).Warn("chat health probe failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, chatHealthResponse{
			Status: "unhealthy",
			Model:  s.agent.ModelName(),
			Error:  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, chatHealthResponse{Status: "healthy", Model: s.agent.ModelName()})
}

// handleSystemPromptGet handles GET /api/chat/system-prompt.
func (s *Server) handleSystemPromptGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, systemPromptBody{Prompt: s.agent.SystemPrompt()})
}

// handleSystemPromptUpdate handles PUT /api/chat/system-prompt. The change is
// process-local and lives until the next update or restart; an empty prompt
// restores the default.
func (s *Server) handleSystemPromptUpdate(w http.ResponseWriter, r *http.Request) {
	var body systemPromptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	s.agent.UpdateSystemPrompt(body.Prompt)
	writeJSON(w, http.StatusOK, systemPromptBody{Prompt: s.agent.SystemPrompt()})
}
