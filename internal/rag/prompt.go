package rag

import (
	"fmt"
	"strings"
)

// FallbackSentence is the exact sentence the model is instructed to emit when
// the supplied context cannot answer the question. The wording is contractual:
// callers pattern-match on it, so it must never change.
const FallbackSentence = "I don't have enough information in your documents to answer this question."

// blockSeparator joins the labelled context blocks.
const blockSeparator = "\n\n---\n\n"

// BuildPrompt merges retrieved context and the user's question into a single
// augmented prompt. It is pure and deterministic: the same inputs always
// produce the same string, and result ordering is preserved exactly as given
// (the retriever already ranks highest score first).
//
// With no context the question is returned unchanged — no augmentation.
func BuildPrompt(question string, results []SearchResult) string {
	if len(results) == 0 {
		return question
	}

	blocks := make([]string, 0, len(results))
	for i, res := range results {
		blocks = append(blocks, fmt.Sprintf("[Document %d]\n%s", i+1, res.Document.Content))
	}

	var sb strings.Builder
	sb.WriteString("Answer the question using the context from the user's documents below.\n")
	sb.WriteString("If the context does not contain enough information to answer, reply with exactly this sentence: ")
	sb.WriteString(FallbackSentence)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(strings.Join(blocks, blockSeparator))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}
