// Package commands defines all Cobra CLI commands for the docrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docrag",
		Short: "docrag: ask questions about your PDF documents",
		Long: `docrag indexes PDF documents into a vector store and answers questions
about them with a language model, citing the passages it used.

Each document becomes one collection holding its text chunks, tables
(as Markdown) and image captions. Answers are grounded only in the
retrieved passages of the collection you ask about.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.docrag/config.yaml).
See 'docrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env and YAML config first so LOG_LEVEL/LOG_FORMAT from
			// either file apply to the command logger.
			path, err := config.Load(configPath, logging.Discard())
			if err != nil {
				return err
			}

			log := logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), args, path)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docrag/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewCollectionsCmd(),
		NewHistoryCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
