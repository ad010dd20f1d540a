package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/conduit/client"
)

var subscribePatterns bool

func init() {
	SubscribeCmd.Flags().BoolVarP(&subscribePatterns, "pattern", "p", false, "Treat the arguments as glob patterns")
}

var SubscribeCmd = &cobra.Command{
	Use:   "subscribe <channel...>",
	Short: "Print messages published to the channels until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, log, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		listener := client.NewListener(func(msg *client.Message) {
			if msg.Pattern != "" {
				fmt.Fprintf(out, "%s %s %s\n", msg.Pattern, msg.Channel, msg.Payload)
				return
			}
			fmt.Fprintf(out, "%s %s\n", msg.Channel, msg.Payload)
		})

		subscribe := c.Subscribe
		if subscribePatterns {
			subscribe = c.PSubscribe
		}

		count, err := subscribe(listener, args...).Wait(ctx)
		if err != nil {
			return err
		}

		log.Info("Subscribed", zap.Strings("channels", args), zap.Int64("count", count))

		<-ctx.Done()

		// The subscriptions die with the connection, this only tells the
		// server early.
		unsubscribe := c.Unsubscribe
		if subscribePatterns {
			unsubscribe = c.PUnsubscribe
		}

		uctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_, err = unsubscribe(listener, args...).Wait(uctx)
		return err
	},
}
