package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/version"
)

// NewVersionCmd constructs the `medqa version` subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the medqa version, git commit, and build date",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
