package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ragserve/internal/ingestion"
	"ragserve/internal/logging"
	"ragserve/internal/rag"
)

// NewIngestCmd constructs the `ragserve ingest` command, which runs the bulk
// document ingestion pipeline to populate the vector store.
func NewIngestCmd() *cobra.Command {
	var title string
	var sources []string
	var chunkSize int
	var chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the vector store",
		Long: `Fetch (or read), chunk, embed, and index documents into the Qdrant vector
store. Each source is an HTTP(S) URL or a local file path; its text is split
into overlapping chunks so retrieval returns focused passages rather than
whole documents.

Re-ingesting the same source overwrites its previous chunks instead of
duplicating them.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: documents)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  EMBEDDING_PROVIDER   Embedding backend: hash, ollama, openai, azure (default: hash)
  EMBEDDING_*          Provider-specific overrides

Examples:
  ragserve ingest --source ./docs/handbook.md
  ragserve ingest --source https://example.com/runbook.txt --title "Ops runbook"
  ragserve ingest --source a.txt --source b.txt --chunk-size 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(sources) == 0 {
				return fmt.Errorf("ingest: at least one --source is required")
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			qcfg := qdrantConfigFromEnv()
			store, err := rag.NewQdrantStore(ctx, qcfg)
			if err != nil {
				return fmt.Errorf("ingest: failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
			}
			defer store.Close()
			log.Info("qdrant store ready",
				slog.String("host", qcfg.Host),
				slog.Int("port", qcfg.Port),
				slog.String("collection", qcfg.Collection),
			)

			pipeline, err := ingestion.NewPipeline(emb, store, &ingestion.Config{
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			ingestSources := make([]ingestion.Source, 0, len(sources))
			for _, s := range sources {
				ingestSources = append(ingestSources, ingestion.Source{Location: s, Title: title})
			}

			log.Info("starting ingestion", slog.Int("sources", len(ingestSources)))

			if err := pipeline.Ingest(ctx, ingestSources, func(msg string) {
				log.Info(msg)
			}); err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete", slog.Int("sources", len(ingestSources)))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&sources, "source", "s", nil, "Document URL or file path to ingest (repeatable)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Human-readable title stored in chunk metadata")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Maximum characters per chunk (default 1000)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Characters shared between consecutive chunks (default 100)")

	return cmd
}
