package commands

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"ragserve/internal/embedder"
	"ragserve/internal/rag"
)

// qdrantConfigFromEnv resolves the Qdrant connection parameters from
// environment variables. The vector size follows the configured embedding
// backend so the collection is created with matching dimensionality.
//
// Environment variables:
//
//	QDRANT_HOST       (default: localhost)
//	QDRANT_PORT       (default: 6334)
//	QDRANT_COLLECTION (default: documents)
//	QDRANT_API_KEY    (optional)
//	QDRANT_TLS        (default: false)
func qdrantConfigFromEnv() *rag.QdrantConfig {
	port := 6334
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	return &rag.QdrantConfig{
		Host:       envOrDefault("QDRANT_HOST", "localhost"),
		Port:       port,
		Collection: envOrDefault("QDRANT_COLLECTION", "documents"),
		VectorSize: uint64(embedder.DefaultDimensions(embedder.ResolveBackend())),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
}

// buildLazyStore returns a lazily-initialised Qdrant store. The connection
// and collection setup happen on first use, so the server can come up (and
// answer non-document requests) while Qdrant is still starting.
func buildLazyStore(log *slog.Logger) *rag.Lazy {
	cfg := qdrantConfigFromEnv()
	return rag.NewLazy(func(ctx context.Context) (rag.VectorStore, error) {
		log.Info("connecting to qdrant",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
		)
		return rag.NewQdrantStore(ctx, cfg)
	})
}

// buildEmbedder constructs the configured embedder and runs its pre-flight
// validation, logging configuration problems early instead of on the first
// request.
func buildEmbedder(log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	return embedder.NewFromEnv()
}

// envOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
