package gen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/conduit/internal/meta"
)

var (
	manDir   string
	markdown bool
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for conduit",
	Long: `Generates up-to-date man pages for every conduit command. By
	default, it writes them to the "man" directory under the current
	directory. --markdown writes markdown pages instead.`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		dir := filepath.Clean(manDir)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}

		root := cmd.Root()
		root.DisableAutoGenTag = true

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Generating conduit docs in", dir, "...")

		var err error
		if markdown {
			err = doc.GenMarkdownTree(root, dir)
		} else {
			err = doc.GenManTree(root, &doc.GenManHeader{
				Section: "1",
				Manual:  "conduit Manual",
				Source:  "conduit " + meta.ReleaseVersion(),
			}, dir)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(out, "Done.")
		return nil
	},
}

func init() {
	flags := ManPagesCmd.PersistentFlags()

	flags.StringVar(&manDir, "dir", "man/", "the directory to write the pages to.")
	flags.BoolVar(&markdown, "markdown", false, "write markdown instead of man pages.")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
