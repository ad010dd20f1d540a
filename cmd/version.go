package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/conduit/internal/meta"
)

var versionJSON bool

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := meta.GetInfo()
		if !versionJSON {
			fmt.Fprintln(cmd.OutOrStdout(), info)
			return nil
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

func init() {
	VersionCmd.Flags().BoolVar(&versionJSON, "json", false, "print the build information as JSON")
}
