// Command ragserve is the entry point for the RAG chat service.
// It provides a CLI interface (via Cobra) and an HTTP server exposing
// streaming chat and document management over a vector store.
package main

import (
	"fmt"
	"os"

	"ragserve/cmd/ragserve/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
