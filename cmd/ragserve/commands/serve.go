package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"ragserve/internal/agent"
	"ragserve/internal/logging"
	"ragserve/internal/provider"
	"ragserve/internal/rag"
	"ragserve/internal/server"
	"ragserve/internal/store"
	"ragserve/internal/tracing"
)

// NewServeCmd constructs the `ragserve serve` command, which starts the HTTP
// server exposing the chat and document APIs.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragserve HTTP server",
		Long: `Start the ragserve HTTP server on localhost.

The server exposes a REST/SSE API: POST /api/chat streams answers token by
token, and the /api/documents endpoints manage the vector store contents.
Qdrant is connected lazily on first document or retrieval use, so the server
comes up even while Qdrant is still starting.

Examples:
  ragserve serve
  ragserve serve --port 9090
  MODEL_PROVIDER=openai ragserve serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			ragAgent, err := agent.New(&agent.Config{
				Model:        chatModel,
				ModelName:    providerCfg.ModelName(),
				SystemPrompt: os.Getenv("MODEL_SYSTEM_PROMPT"),
				Temperature:  providerCfg.Tuning.Temperature,
				MaxTokens:    providerCfg.Tuning.MaxTokens,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise agent: %w", err)
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			lazyStore := buildLazyStore(log)
			defer func() { _ = lazyStore.Close() }()

			retriever, err := rag.NewRetriever(emb, lazyStore)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// Open the transcript store. RAGSERVE_HISTORY_DB overrides the
			// default path (~/.ragserve/transcripts.db). Set to "disabled" to
			// turn persistence off.
			var transcripts store.TranscriptStore
			dbPath := os.Getenv("RAGSERVE_HISTORY_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					ts, tsErr := store.Open(dbPath)
					if tsErr != nil {
						log.Warn("history: failed to open store, disabling", slog.Any("error", tsErr))
					} else {
						transcripts = ts
						defer func() { _ = ts.Close() }()
						log.Info("history: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("history: disabled via RAGSERVE_HISTORY_DB=disabled")
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(ragAgent, string(providerCfg.Backend)),
				server.NewStorePinger(lazyStore),
			}

			srv, err := server.New(&server.Deps{
				Agent:       ragAgent,
				Retriever:   retriever,
				Store:       lazyStore,
				Embedder:    emb,
				Transcripts: transcripts,
			}, &server.Config{
				Host:             host,
				Port:             port,
				Logger:           log,
				Pingers:          pingers,
				APIKey:           os.Getenv("RAGSERVE_API_KEY"),
				RateLimit:        envFloat("RAGSERVE_RATE_LIMIT"),
				RateBurst:        envInt("RAGSERVE_RATE_BURST"),
				MaxContextTokens: envInt("RAGSERVE_MAX_CONTEXT_TOKENS"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// envInt parses an integer env var, returning 0 (use the default) when unset
// or malformed.
func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

// envFloat parses a float env var, returning 0 (use the default) when unset
// or malformed.
func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0
	}
	return v
}
