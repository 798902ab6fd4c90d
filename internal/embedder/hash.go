package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultHashDimensions is the vector size produced by the hash embedder.
const DefaultHashDimensions = 384

// HashEmbedder is a PLACEHOLDER embedding provider. It folds a character
// hash of the input into a fixed-length vector and L2-normalises it.
//
// The output is deterministic but carries NO semantic meaning: two texts
// about the same topic are no closer in this space than two unrelated ones,
// so similarity rankings over hash embeddings are essentially arbitrary.
// It exists so the service runs end-to-end with zero external dependencies;
// configure EMBEDDING_PROVIDER=ollama or openai for real retrieval quality.
type HashEmbedder struct {
	// dimensions is the output vector length.
	dimensions int
}

// NewHashEmbedder constructs a HashEmbedder with the given vector size.
// A size below 1 falls back to DefaultHashDimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions < 1 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions returns the output vector length.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Embed converts each text into its pseudo-embedding. The returned slice is
// parallel to the input. Embed never fails; the error return exists only to
// satisfy the Embedder interface.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

// embedOne buckets each character (weighted by position) into the vector via
// FNV-1a, then normalises to unit length so cosine scores stay bounded.
func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimensions)

	for i, r := range text {
		h := fnv.New32a()
		var buf [8]byte
		buf[0] = byte(r)
		buf[1] = byte(r >> 8)
		buf[2] = byte(r >> 16)
		buf[3] = byte(r >> 24)
		buf[4] = byte(i)
		buf[5] = byte(i >> 8)
		buf[6] = byte(i >> 16)
		buf[7] = byte(i >> 24)
		_, _ = h.Write(buf[:])
		sum := h.Sum32()

		idx := int(sum % uint32(e.dimensions)) //nolint:gosec // dimensions >= 1
		// Alternate sign so the vector is not all-positive.
		if sum&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
