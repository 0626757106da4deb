// Package commands defines all Cobra CLI commands for the medqa binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/audit"
	"github.com/54b3r/medqa-go/internal/config"
	"github.com/54b3r/medqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "medqa",
		Short: "medqa: question answering over pediatrics textbooks",
		Long: `medqa answers pediatrics questions from ingested PDF textbooks.

PDFs are split into overlapping chunks, embedded, and stored in Qdrant or
Postgres/pgvector. Questions are answered by a chat model that sees the most
relevant passages, and follow-up questions are rewritten using the
conversation history.

Settings come from the environment, a .env file, and a YAML config file
(~/.medqa/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env first so LOG_LEVEL and friends apply to the logger below.
			if err := config.LoadDotEnv(envFile, slog.Default()); err != nil {
				return err
			}
			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.medqa/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the config file")

	root.AddCommand(
		NewIngestCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewStatsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
