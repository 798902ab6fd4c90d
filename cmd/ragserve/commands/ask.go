package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ragserve/internal/agent"
	"ragserve/internal/logging"
	"ragserve/internal/provider"
	"ragserve/internal/rag"
)

// NewAskCmd constructs the `ragserve ask` command, which sends a single
// question to the chat backend and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var useRAG bool
	var ragLimit int
	var reasoning bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-shot question from the command line",
		Long: `Ask a single question and stream the answer to stdout.

With --rag the question is first matched against the vector store and the
most relevant document chunks are folded into the prompt, exactly as the
HTTP chat endpoint does.

Examples:
  ragserve ask "summarise the onboarding guide"
  ragserve ask --rag "what does our retry policy say about timeouts?"
  ragserve ask --rag --limit 5 --reasoning "compare the two deployment options"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			agentCfg := &agent.Config{
				Model:     chatModel,
				ModelName: providerCfg.ModelName(),
			}
			if reasoning {
				agentCfg.SystemPrompt = agent.ReasoningSystemPrompt
			}
			ragAgent, err := agent.New(agentCfg)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise agent: %w", err)
			}

			question := args[0]
			prompt := question
			if useRAG {
				emb, err := buildEmbedder(log)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				lazyStore := buildLazyStore(log)
				defer func() { _ = lazyStore.Close() }()

				retriever, err := rag.NewRetriever(emb, lazyStore)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				results := retriever.Retrieve(ctx, question, rag.ClampLimit(ragLimit))
				prompt = rag.BuildPrompt(question, results)
			}
			if reasoning {
				prompt = agent.ChainOfThought(prompt)
			}

			err = ragAgent.Stream(ctx, prompt, func(token string) error {
				_, werr := fmt.Fprint(os.Stdout, token)
				return werr
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useRAG, "rag", false, "Augment the question with retrieved document context")
	cmd.Flags().IntVar(&ragLimit, "limit", 0, "Number of document chunks to retrieve (1-10, default 3)")
	cmd.Flags().BoolVar(&reasoning, "reasoning", false, "Use the step-by-step reasoning prompt")

	return cmd
}
