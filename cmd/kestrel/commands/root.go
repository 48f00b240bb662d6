// Package commands defines all Cobra CLI commands for the kestrel binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/kestrelnotes/kestrel-go/internal/audit"
	"github.com/kestrelnotes/kestrel-go/internal/config"
	"github.com/kestrelnotes/kestrel-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kestrel",
		Short: "Kestrel — search your notes and get AI answers grounded in them",
		Long: `Kestrel is a local-first answer engine for your personal notes.

It keeps a local cache of your notes, ranks them against natural language
questions, and asks a generation backend to answer using only the matching
notes. Backends are tried in priority order — Gemini, local Ollama, then
the OpenRouter gateway — with automatic fallback when one fails.

The preferred backend is selected via the KESTREL_PROVIDER environment
variable or a YAML config file (~/.kestrel/config.yaml).
See 'kestrel --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New("", "")

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

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kestrel/config.yaml)")

	root.AddCommand(
		NewSearchCmd(),
		NewAskCmd(),
		NewImportCmd(),
		NewProvidersCmd(),
		NewStatsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
