package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var PublishCmd = &cobra.Command{
	Use:   "publish <channel> <message>",
	Short: "Publish a message and print how many subscribers received it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, _, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		receivers, err := c.Publish(args[0], []byte(args[1])).Wait(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), receivers)
		return nil
	},
}
