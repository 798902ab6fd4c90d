package server

import (
	"context"
	"fmt"

	"ragserve/internal/rag"
)

// generator is the minimal surface LLMPinger probes. *agent.ChatAgent
// satisfies it.
type generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMPinger probes the chat backend by sending a minimal generate request.
// It satisfies the Pinger interface and is used by GET /api/ready. The probe
// consumes a handful of tokens; probeTimeout bounds its cost in latency.
type LLMPinger struct {
	// gen is the chat backend to probe.
	gen generator
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given backend and name.
func NewLLMPinger(gen generator, name string) *LLMPinger {
	return &LLMPinger{gen: gen, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping sends a one-word generate request to the backend.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if _, err := p.gen.Generate(ctx, "ping"); err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	return nil
}

// StorePinger probes the vector store via its Heartbeat. The store is
// lazily initialised, so the probe triggers initialisation on first use —
// readiness reflects whether the store can actually serve.
type StorePinger struct {
	// store is the lazily-initialised vector store to probe.
	store *rag.Lazy
}

// NewStorePinger constructs a StorePinger for the given lazy store.
func NewStorePinger(store *rag.Lazy) *StorePinger {
	return &StorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "qdrant" }

// Ping resolves the store and runs its heartbeat check.
func (p *StorePinger) Ping(ctx context.Context) error {
	st, err := p.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("store init failed: %w", err)
	}
	if err := st.Heartbeat(ctx); err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	return nil
}
