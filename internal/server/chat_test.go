package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"ragserve/internal/agent"
	"ragserve/internal/budget"
	"ragserve/internal/rag"
	"ragserve/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes for chat handler tests
// ---------------------------------------------------------------------------

// fakeAgent implements the chatAgent interface for tests. It replays a fixed
// token sequence and records the prompt and turns it was given.
type fakeAgent struct {
	// tokens is the sequence replayed to onToken, one call per entry.
	tokens []string
	// failAfter injects an error after this many tokens; -1 disables it.
	failAfter int
	// err is the injected failure (defaults to a generic one when failAfter fires).
	err error
	// genErr is returned by Generate when non-nil.
	genErr error
	// gotPrompt captures the last prompt passed to StreamChat.
	gotPrompt string
	// gotTurns captures the last turns passed to StreamChat.
	gotTurns []agent.Turn
	// systemPrompt is the mutable prompt returned by SystemPrompt.
	systemPrompt string
}

func newFakeAgent(tokens ...string) *fakeAgent {
	return &fakeAgent{tokens: tokens, failAfter: -1, systemPrompt: "test system prompt"}
}

func (f *fakeAgent) Generate(_ context.Context, _ string) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	return strings.Join(f.tokens, ""), nil
}

func (f *fakeAgent) StreamChat(_ context.Context, turns []agent.Turn, prompt string, onToken func(string) error) error {
	f.gotPrompt = prompt
	f.gotTurns = turns
	if f.failAfter == 0 {
		return f.streamErr()
	}
	for i, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
		if f.failAfter > 0 && i+1 == f.failAfter {
			return f.streamErr()
		}
	}
	return nil
}

func (f *fakeAgent) streamErr() error {
	if f.err != nil {
		return f.err
	}
	return fmt.Errorf("LLM service error: injected")
}

func (f *fakeAgent) SystemPrompt() string             { return f.systemPrompt }
func (f *fakeAgent) UpdateSystemPrompt(prompt string) { f.systemPrompt = prompt }
func (f *fakeAgent) ModelName() string                { return "test-model" }

// fakeRetriever implements rag.Retriever and records the limit it was called
// with.
type fakeRetriever struct {
	// results is returned from every Retrieve call.
	results []rag.SearchResult
	// gotLimit captures the last limit passed to Retrieve.
	gotLimit int
	// called reports whether Retrieve ran at all.
	called bool
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, limit int) []rag.SearchResult {
	f.called = true
	f.gotLimit = limit
	return f.results
}

// fakeTranscripts implements store.TranscriptStore in memory.
type fakeTranscripts struct {
	// appended records every Append call in order.
	appended []store.Message
	// sessions records the session ID of each Append call.
	sessions []string
	// recent is returned by Recent.
	recent []store.Message
}

func (f *fakeTranscripts) Append(_ context.Context, sessionID string, role store.Role, content string) error {
	f.appended = append(f.appended, store.Message{Role: role, Content: content})
	f.sessions = append(f.sessions, sessionID)
	return nil
}

func (f *fakeTranscripts) Recent(_ context.Context, _ string, _ int) ([]store.Message, error) {
	return f.recent, nil
}

func (f *fakeTranscripts) Close() error { return nil }

// newChatTestServer builds a *Server wired with the given fakes. The lazy
// store resolves to an empty in-memory fake; chat tests never touch it.
func newChatTestServer(a chatAgent, r rag.Retriever) *Server {
	return &Server{
		agent:     a,
		retriever: r,
		store:     rag.NewLazy(func(context.Context) (rag.VectorStore, error) { return newFakeStore(), nil }),
		embedder:  &fakeEmbedder{},
		cfg:       &Config{Port: 8080, MaxContextTokens: budget.DefaultMaxContextTokens},
		log:       slog.Default(),
		metrics:   newServerMetrics(prometheus.NewRegistry()),
	}
}

// postChat sends a chat request body through the handler and returns the recorder.
func postChat(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handleChat(w, req)
	return w
}

// ---------------------------------------------------------------------------
// POST /api/chat — validation error paths
// ---------------------------------------------------------------------------

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(newFakeAgent(), &fakeRetriever{})
	w := postChat(s, `not-json`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_EmptyMessages(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(newFakeAgent(), &fakeRetriever{})
	w := postChat(s, `{"messages":[]}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "validation_error") {
		t.Errorf("expected validation_error code, got: %s", w.Body.String())
	}
}

func TestHandleChat_BlankFinalMessage(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(newFakeAgent(), &fakeRetriever{})
	w := postChat(s, `{"messages":[{"role":"user","content":"   "}]}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — streaming happy path
// ---------------------------------------------------------------------------

// TestHandleChat_StreamsTokensThenEnvelope verifies the full SSE contract:
// one chunk frame per token, a final completion envelope with the assembled
// text, then the [DONE] sentinel. httptest.ResponseRecorder implements
// http.Flusher so the handler's flusher check passes.
func TestHandleChat_StreamsTokensThenEnvelope(t *testing.T) {
	t.Parallel()

	a := newFakeAgent("Hel", "lo", "!")
	s := newChatTestServer(a, &fakeRetriever{})

	w := postChat(s, `{"messages":[{"role":"user","content":"greet me"}]}`)

	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, body)
	}
	if got := strings.Count(body, `"chat.completion.chunk"`); got != 3 {
		t.Errorf("expected 3 chunk frames, got %d in: %s", got, body)
	}
	if !strings.Contains(body, `"object":"chat.completion"`) {
		t.Errorf("expected final completion envelope in body, got: %s", body)
	}
	if !strings.Contains(body, `"content":"Hello!"`) {
		t.Errorf("expected assembled content in envelope, got: %s", body)
	}
	if !strings.Contains(body, `"finishReason":"stop"`) {
		t.Errorf("expected finishReason stop, got: %s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("expected [DONE] sentinel at stream end, got: %s", body)
	}
}

// TestHandleChat_FramesShareCompletionID verifies every frame of one response
// carries the same completion ID.
func TestHandleChat_FramesShareCompletionID(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(newFakeAgent("a", "b"), &fakeRetriever{})
	w := postChat(s, `{"messages":[{"role":"user","content":"hi"}]}`)

	var ids []string
	for _, line := range strings.Split(w.Body.String(), "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var frame struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Fatalf("frame is not valid JSON: %v: %s", err, payload)
		}
		ids = append(ids, frame.ID)
	}

	if len(ids) != 3 {
		t.Fatalf("expected 3 JSON frames, got %d", len(ids))
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Errorf("completion IDs differ across frames: %v", ids)
		}
		if !strings.HasPrefix(id, "chatcmpl-") {
			t.Errorf("expected chatcmpl- prefix, got %q", id)
		}
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — retrieval behaviour
// ---------------------------------------------------------------------------

func TestHandleChat_RAGLimitClamped(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		requested int
		want      int
	}{
		{"zero selects default", 0, rag.DefaultLimit},
		{"negative selects default", -5, rag.DefaultLimit},
		{"in range passes through", 7, 7},
		{"above max clamps", 99, rag.MaxLimit},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := &fakeRetriever{}
			s := newChatTestServer(newFakeAgent("ok"), r)

			body := fmt.Sprintf(`{"messages":[{"role":"user","content":"q"}],"useRag":true,"ragLimit":%d}`, tc.requested)
			postChat(s, body)

			if r.gotLimit != tc.want {
				t.Errorf("expected limit %d, got %d", tc.want, r.gotLimit)
			}
		})
	}
}

func TestHandleChat_RAGDisabledSkipsRetrieval(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{}
	a := newFakeAgent("ok")
	s := newChatTestServer(a, r)

	postChat(s, `{"messages":[{"role":"user","content":"plain question"}]}`)

	if r.called {
		t.Error("expected retriever to stay untouched when useRag is false")
	}
	if a.gotPrompt != "plain question" {
		t.Errorf("expected unaugmented prompt, got %q", a.gotPrompt)
	}
}

func TestHandleChat_PromptAugmentedWithContext(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{results: []rag.SearchResult{
		{Document: rag.Document{ID: "d1", Content: "the sky is green here"}, Score: 0.9},
	}}
	a := newFakeAgent("ok")
	s := newChatTestServer(a, r)

	postChat(s, `{"messages":[{"role":"user","content":"sky colour?"}],"useRag":true}`)

	if !strings.Contains(a.gotPrompt, "[Document 1]") {
		t.Errorf("expected context block in prompt, got %q", a.gotPrompt)
	}
	if !strings.Contains(a.gotPrompt, "the sky is green here") {
		t.Errorf("expected document content in prompt, got %q", a.gotPrompt)
	}
	if !strings.Contains(a.gotPrompt, "Question: sky colour?") {
		t.Errorf("expected question at prompt end, got %q", a.gotPrompt)
	}
}

// TestHandleChat_RetrievalDegraded verifies an empty retrieval still answers:
// the prompt falls back to the bare question and the stream completes.
func TestHandleChat_RetrievalDegraded(t *testing.T) {
	t.Parallel()

	a := newFakeAgent("answer")
	s := newChatTestServer(a, &fakeRetriever{results: nil})

	w := postChat(s, `{"messages":[{"role":"user","content":"q"}],"useRag":true}`)

	if a.gotPrompt != "q" {
		t.Errorf("expected bare question prompt on empty retrieval, got %q", a.gotPrompt)
	}
	if !strings.Contains(w.Body.String(), "[DONE]") {
		t.Errorf("expected completed stream, got: %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — history forwarding
// ---------------------------------------------------------------------------

func TestHandleChat_ForwardsPriorTurns(t *testing.T) {
	t.Parallel()

	a := newFakeAgent("ok")
	s := newChatTestServer(a, &fakeRetriever{})

	postChat(s, `{"messages":[
		{"role":"user","content":"first"},
		{"role":"assistant","content":"reply"},
		{"role":"user","content":"second"}]}`)

	if len(a.gotTurns) != 2 {
		t.Fatalf("expected 2 prior turns, got %d", len(a.gotTurns))
	}
	if a.gotTurns[0].Content != "first" || a.gotTurns[1].Role != "assistant" {
		t.Errorf("unexpected turns: %+v", a.gotTurns)
	}
	if a.gotPrompt != "second" {
		t.Errorf("expected final message as prompt, got %q", a.gotPrompt)
	}
}

func TestHandleChat_ReplaysStoredSessionHistory(t *testing.T) {
	t.Parallel()

	ts := &fakeTranscripts{recent: []store.Message{
		{Role: store.RoleUser, Content: "earlier question"},
		{Role: store.RoleAssistant, Content: "earlier answer"},
	}}
	a := newFakeAgent("ok")
	s := newChatTestServer(a, &fakeRetriever{})
	s.transcripts = ts

	postChat(s, `{"messages":[{"role":"user","content":"follow-up"}],"session":"s1"}`)

	if len(a.gotTurns) != 2 {
		t.Fatalf("expected stored history replayed as 2 turns, got %d", len(a.gotTurns))
	}
	if a.gotTurns[1].Content != "earlier answer" {
		t.Errorf("unexpected replayed turns: %+v", a.gotTurns)
	}
}

func TestHandleChat_RecordsTranscript(t *testing.T) {
	t.Parallel()

	ts := &fakeTranscripts{}
	a := newFakeAgent("the answer")
	s := newChatTestServer(a, &fakeRetriever{})
	s.transcripts = ts

	postChat(s, `{"messages":[{"role":"user","content":"the question"}],"session":"sess-42"}`)

	if len(ts.appended) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(ts.appended))
	}
	if ts.appended[0].Role != store.RoleUser || ts.appended[0].Content != "the question" {
		t.Errorf("unexpected user turn: %+v", ts.appended[0])
	}
	if ts.appended[1].Role != store.RoleAssistant || ts.appended[1].Content != "the answer" {
		t.Errorf("unexpected assistant turn: %+v", ts.appended[1])
	}
	if ts.sessions[0] != "sess-42" {
		t.Errorf("expected session sess-42, got %q", ts.sessions[0])
	}
}

func TestHandleChat_NoSessionSkipsTranscript(t *testing.T) {
	t.Parallel()

	ts := &fakeTranscripts{}
	s := newChatTestServer(newFakeAgent("ok"), &fakeRetriever{})
	s.transcripts = ts

	postChat(s, `{"messages":[{"role":"user","content":"q"}]}`)

	if len(ts.appended) != 0 {
		t.Errorf("expected no persistence without a session, got %d turns", len(ts.appended))
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — failure paths
// ---------------------------------------------------------------------------

// TestHandleChat_ImmediateBackendError verifies a failure before any token
// downgrades to a JSON error envelope with a 502.
func TestHandleChat_ImmediateBackendError(t *testing.T) {
	t.Parallel()

	a := newFakeAgent("never", "sent")
	a.failAfter = 0
	s := newChatTestServer(a, &fakeRetriever{})

	w := postChat(s, `{"messages":[{"role":"user","content":"q"}]}`)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "llm_error") {
		t.Errorf("expected llm_error code, got: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "LLM service error") {
		t.Errorf("expected wrapped backend error, got: %s", w.Body.String())
	}
}

// TestHandleChat_MidStreamError verifies a failure after tokens have flowed
// is delivered in-band: the truncated stream ends with an error frame and
// neither a completion envelope nor [DONE] follows.
func TestHandleChat_MidStreamError(t *testing.T) {
	t.Parallel()

	a := newFakeAgent("tok1", "tok2", "tok3")
	a.failAfter = 1
	s := newChatTestServer(a, &fakeRetriever{})

	w := postChat(s, `{"messages":[{"role":"user","content":"q"}]}`)

	body := w.Body.String()
	if !strings.Contains(body, "tok1") {
		t.Errorf("expected first token delivered, got: %s", body)
	}
	if !strings.Contains(body, `"code":"llm_error"`) {
		t.Errorf("expected in-band error frame, got: %s", body)
	}
	// `"chat.completion"` with the closing quote never matches the chunk
	// frames' `"chat.completion.chunk"`.
	if strings.Contains(body, `"object":"chat.completion"`) {
		t.Errorf("unexpected completion envelope after failure: %s", body)
	}
	if strings.Contains(body, "[DONE]") {
		t.Errorf("unexpected [DONE] after failure: %s", body)
	}
}

// ---------------------------------------------------------------------------
// GET /api/chat/health
// ---------------------------------------------------------------------------

func TestHandleChatHealth_Healthy(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(newFakeAgent("pong"), &fakeRetriever{})
	req := httptest.NewRequest(http.MethodGet, "/api/chat/health", nil)
	w := httptest.NewRecorder()

	s.handleChatHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"healthy"`) {
		t.Errorf("expected healthy status, got: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "test-model") {
		t.Errorf("expected model name in response, got: %s", w.Body.String())
	}
}

func TestHandleChatHealth_BackendDown(t *testing.T) {
	t.Parallel()

	a := newFakeAgent()
	a.genErr = fmt.Errorf("LLM service error: connection refused")
	s := newChatTestServer(a, &fakeRetriever{})
	req := httptest.NewRequest(http.MethodGet, "/api/chat/health", nil)
	w := httptest.NewRecorder()

	s.handleChatHealth(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"unhealthy"`) {
		t.Errorf("expected unhealthy status, got: %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// /api/chat/system-prompt
// ---------------------------------------------------------------------------

func TestSystemPrompt_GetAndUpdate(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(newFakeAgent(), &fakeRetriever{})

	w := httptest.NewRecorder()
	s.handleSystemPromptGet(w, httptest.NewRequest(http.MethodGet, "/api/chat/system-prompt", nil))
	if !strings.Contains(w.Body.String(), "test system prompt") {
		t.Errorf("expected current prompt, got: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/chat/system-prompt",
		strings.NewReader(`{"prompt":"you are a pirate"}`))
	s.handleSystemPromptUpdate(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "you are a pirate") {
		t.Errorf("expected updated prompt echoed, got: %s", w.Body.String())
	}
}
