// Package commands defines all Cobra CLI commands for the ragserve binary.
package commands

import (
	"github.com/spf13/cobra"

	"ragserve/internal/audit"
	"ragserve/internal/config"
	"ragserve/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragserve",
		Short: "ragserve — chat with your documents over any LLM backend",
		Long: `ragserve is a retrieval-augmented chat service. Upload documents into a
Qdrant vector store, then ask questions: answers are grounded in the most
relevant document chunks and streamed token by token.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.ragserve/config.yaml).
See 'ragserve --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragserve/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
