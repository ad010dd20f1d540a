package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCount int

func init() {
	PingCmd.Flags().IntVarP(&pingCount, "count", "n", 1, "Number of pings to send")
}

var PingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the server and print the round trip time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, _, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		for i := 0; i < pingCount; i++ {
			start := time.Now()

			reply, err := c.Ping().Wait(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s in %s\n", reply, time.Since(start))
		}

		return nil
	},
}
