package cmd

import (
	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabsink",
		Short: "tabsink streams tab separated rows into a database or key-value store.",
	}
	cmd.AddCommand(
		loadCmd(),
		versionCmd(),
	)
	return cmd
}
