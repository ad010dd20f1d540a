package gen

import (
	"github.com/spf13/cobra"
)

// RootCmd groups the generators, conduit gen man writes the man pages.
var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for the conduit CLI",
	Args:  cobra.NoArgs,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
