// Package commands holds the matchroom CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "matchroom",
		Short: "Matching and presence engine",
		Long: `matchroom runs the local matching and presence engine: likes that resolve
into mutual matches exactly once, and room membership kept in sync across
clients. Configuration comes from the environment (and .env).`,
		SilenceUsage: true,
	}

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewSeedCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
