package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ---------------------------------------------------------------------------
// Fake backend
// ---------------------------------------------------------------------------

// fakeModel implements model.BaseChatModel, returning canned content and
// capturing the messages it was called with.
type fakeModel struct {
	// reply is the Generate response content.
	reply string
	// chunks are streamed one message per element.
	chunks []string
	// err fails both Generate and Stream when non-nil.
	err error
	// got captures the last input messages.
	got []*schema.Message
}

func (m *fakeModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.got = in
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeModel) Stream(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.got = in
	if m.err != nil {
		return nil, m.err
	}
	msgs := make([]*schema.Message, len(m.chunks))
	for i, c := range m.chunks {
		msgs[i] = schema.AssistantMessage(c, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func newTestAgent(t *testing.T, m model.BaseChatModel) *ChatAgent {
	t.Helper()
	a, err := New(&Config{Model: m, ModelName: "test-model"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresModel(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error for nil model")
	}
}

func TestNew_DefaultsSystemPrompt(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, &fakeModel{})
	if a.SystemPrompt() != DefaultSystemPrompt {
		t.Errorf("expected default system prompt, got %q", a.SystemPrompt())
	}

	b, _ := New(&Config{Model: &fakeModel{}, SystemPrompt: "be terse"})
	if b.SystemPrompt() != "be terse" {
		t.Errorf("expected configured prompt, got %q", b.SystemPrompt())
	}
}

func TestUpdateSystemPrompt(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, &fakeModel{})

	a.UpdateSystemPrompt("answer in haiku")
	if a.SystemPrompt() != "answer in haiku" {
		t.Errorf("expected updated prompt, got %q", a.SystemPrompt())
	}

	// Empty restores the default rather than silencing the system message.
	a.UpdateSystemPrompt("")
	if a.SystemPrompt() != DefaultSystemPrompt {
		t.Errorf("expected default restored, got %q", a.SystemPrompt())
	}
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func TestGenerate(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "pong"}
	a := newTestAgent(t, m)

	got, err := a.Generate(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "pong" {
		t.Errorf("expected %q, got %q", "pong", got)
	}

	if len(m.got) != 2 {
		t.Fatalf("expected system + user message, got %d", len(m.got))
	}
	if m.got[0].Role != schema.System || m.got[0].Content != DefaultSystemPrompt {
		t.Errorf("unexpected system message: %+v", m.got[0])
	}
	if m.got[1].Role != schema.User || m.got[1].Content != "ping" {
		t.Errorf("unexpected user message: %+v", m.got[1])
	}
}

func TestGenerate_WrapsBackendError(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, &fakeModel{err: fmt.Errorf("connection refused")})

	_, err := a.Generate(context.Background(), "ping")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsLLMError(err) {
		t.Errorf("expected LLM error classification: %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause preserved: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func TestStream_TokensInOrder(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, &fakeModel{chunks: []string{"Hel", "lo", "!"}})

	var got []string
	err := a.Stream(context.Background(), "hi", func(tok string) error {
		got = append(got, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if strings.Join(got, "") != "Hello!" {
		t.Errorf("expected tokens to concatenate to %q, got %v", "Hello!", got)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 tokens, got %d", len(got))
	}
}

func TestStream_SkipsEmptyChunks(t *testing.T) {
	t.Parallel()

	// Some backends emit empty heartbeat chunks; they carry no content for
	// the client.
	a := newTestAgent(t, &fakeModel{chunks: []string{"", "a", "", "b"}})

	var got []string
	err := a.Stream(context.Background(), "hi", func(tok string) error {
		got = append(got, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected empty chunks skipped, got %v", got)
	}
}

func TestStream_BackendError(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, &fakeModel{err: fmt.Errorf("model not found")})

	err := a.Stream(context.Background(), "hi", func(string) error { return nil })
	if !IsLLMError(err) {
		t.Errorf("expected LLM error, got %v", err)
	}
}

func TestStream_CallbackErrorReturnedUnwrapped(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, &fakeModel{chunks: []string{"a", "b", "c"}})

	sentinel := fmt.Errorf("client went away")
	var calls int
	err := a.Stream(context.Background(), "hi", func(string) error {
		calls++
		return sentinel
	})

	if err != sentinel {
		t.Errorf("expected callback error returned as-is, got %v", err)
	}
	if IsLLMError(err) {
		t.Error("caller-side error must not classify as an LLM error")
	}
	if calls != 1 {
		t.Errorf("expected forwarding to stop after the first error, got %d calls", calls)
	}
}

// ---------------------------------------------------------------------------
// StreamChat
// ---------------------------------------------------------------------------

func TestStreamChat_ForwardsTurns(t *testing.T) {
	t.Parallel()

	m := &fakeModel{chunks: []string{"ok"}}
	a := newTestAgent(t, m)

	turns := []Turn{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "system", Content: "mid-conversation note"},
		{Role: "tool", Content: "unknown role"},
	}
	err := a.StreamChat(context.Background(), turns, "second question", func(string) error { return nil })
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	want := []struct {
		role    schema.RoleType
		content string
	}{
		{schema.System, DefaultSystemPrompt},
		{schema.User, "first question"},
		{schema.Assistant, "first answer"},
		{schema.System, "mid-conversation note"},
		{schema.User, "unknown role"},
		{schema.User, "second question"},
	}
	if len(m.got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(m.got))
	}
	for i, w := range want {
		if m.got[i].Role != w.role || m.got[i].Content != w.content {
			t.Errorf("message %d: got {%s %q}, want {%s %q}",
				i, m.got[i].Role, m.got[i].Content, w.role, w.content)
		}
	}
}

func TestIsLLMError(t *testing.T) {
	t.Parallel()

	if !IsLLMError(llmError(fmt.Errorf("boom"))) {
		t.Error("expected wrapped backend error to classify")
	}
	if IsLLMError(fmt.Errorf("boom")) {
		t.Error("expected plain error not to classify")
	}
	if IsLLMError(nil) {
		t.Error("expected nil not to classify")
	}
}
