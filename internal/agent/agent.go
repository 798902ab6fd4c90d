// Package agent wraps the hosted chat-completion backend behind a small
// surface the HTTP layer consumes: single-shot generation, token streaming,
// and a mutable per-instance system prompt. The backend is any eino
// ChatModel produced by the provider factory, so the agent never depends on
// a specific vendor.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// DefaultSystemPrompt establishes the assistant's persona when no override is
// configured. Kept deliberately short — RAG context arrives inside the user
// prompt, not here.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions about the user's documents.
Be concise and accurate. When document context is provided, ground your answer
in it; when it is not, answer from general knowledge and say so.`

// Config holds the settings for constructing a ChatAgent. Behavioural
// variants (e.g. a reasoning-oriented agent) differ only by prompt text and
// defaults, so one config struct covers them all — see reasoning.go for the
// prompt transforms.
type Config struct {
	// Model is the chat-completion backend. Required.
	Model model.BaseChatModel

	// ModelName is the human-readable model identifier reported in response
	// envelopes (e.g. "gpt-4o", "llama3").
	ModelName string

	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string

	// Temperature controls response randomness. Informational — the value is
	// baked into the backend at provider-construction time.
	Temperature float32

	// MaxTokens caps response length. Informational, same as Temperature.
	MaxTokens int
}

// ChatAgent is the conversational front to the chat-completion backend.
// It is safe for concurrent use; the system prompt is the only mutable state
// and is guarded. System-prompt changes are process-local and per-instance.
type ChatAgent struct {
	// chatModel is the underlying backend.
	chatModel model.BaseChatModel

	// modelName is reported in envelopes and health responses.
	modelName string

	// mu guards systemPrompt.
	mu sync.RWMutex

	// systemPrompt is sent as the leading system message of every request.
	systemPrompt string
}

// New constructs a ChatAgent from the provided Config.
func New(cfg *Config) (*ChatAgent, error) {
	if cfg == nil || cfg.Model == nil {
		return nil, fmt.Errorf("agent: Model must not be nil")
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return &ChatAgent{
		chatModel:    cfg.Model,
		modelName:    cfg.ModelName,
		systemPrompt: prompt,
	}, nil
}

// ModelName returns the configured model identifier.
func (a *ChatAgent) ModelName() string { return a.modelName }

// SystemPrompt returns the current system prompt.
func (a *ChatAgent) SystemPrompt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.systemPrompt
}

// UpdateSystemPrompt replaces the system prompt for subsequent requests on
// this instance. An empty value restores DefaultSystemPrompt.
func (a *ChatAgent) UpdateSystemPrompt(prompt string) {
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	a.mu.Lock()
	a.systemPrompt = prompt
	a.mu.Unlock()
}

// Generate sends the prompt (preceded by the system prompt) to the backend
// and returns the full completion text. Backend failures are the request's
// primary deliverable and are surfaced, wrapped once into the
// "LLM service error" taxonomy.
func (a *ChatAgent) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.chatModel.Generate(ctx, a.messages(prompt))
	if err != nil {
		return "", llmError(err)
	}
	if resp == nil {
		return "", llmError(fmt.Errorf("backend returned nil response"))
	}
	return resp.Content, nil
}

// Turn is a prior conversation message forwarded to the backend ahead of the
// current prompt. Role is one of "user", "assistant", or "system"; anything
// unrecognised is treated as "user".
type Turn struct {
	// Role is the author of the turn.
	Role string
	// Content is the turn text.
	Content string
}

// Stream opens a token stream for the prompt and invokes onToken once per
// incoming chunk, in arrival order. It returns only after the upstream stream
// completes or errors. An error from onToken (typically: the client went
// away) stops forwarding and releases the upstream stream without wrapping —
// it is the caller's own error coming back.
func (a *ChatAgent) Stream(ctx context.Context, prompt string, onToken func(token string) error) error {
	return a.StreamChat(ctx, nil, prompt, onToken)
}

// StreamChat is Stream with prior conversation turns inserted between the
// system prompt and the current prompt. Callers are responsible for trimming
// turns to the backend's context budget.
func (a *ChatAgent) StreamChat(ctx context.Context, turns []Turn, prompt string, onToken func(token string) error) error {
	sr, err := a.chatModel.Stream(ctx, a.conversation(turns, prompt))
	if err != nil {
		return llmError(err)
	}
	defer sr.Close()

	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return llmError(err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if err := onToken(msg.Content); err != nil {
			return err
		}
	}
}

// messages builds the two-message request: current system prompt + user prompt.
func (a *ChatAgent) messages(prompt string) []*schema.Message {
	return a.conversation(nil, prompt)
}

// conversation builds the full request: system prompt, then prior turns, then
// the current user prompt.
func (a *ChatAgent) conversation(turns []Turn, prompt string) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns)+2)
	msgs = append(msgs, schema.SystemMessage(a.SystemPrompt()))
	for _, t := range turns {
		switch t.Role {
		case "assistant":
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		case "system":
			msgs = append(msgs, schema.SystemMessage(t.Content))
		default:
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}
	return append(msgs, schema.UserMessage(prompt))
}

// llmError wraps any backend transport or API failure into the single
// error taxonomy surfaced to callers.
func llmError(err error) error {
	return fmt.Errorf("LLM service error: %w", err)
}

// IsLLMError reports whether err originated from the chat backend (as
// opposed to a caller-side cancellation returned by onToken).
func IsLLMError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "LLM service error:")
}
