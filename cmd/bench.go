package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luma/conduit/client"
)

var (
	benchRequests int
	benchPipeline int
	benchRate     float64
	benchKey      string
)

func init() {
	flags := BenchCmd.Flags()

	flags.IntVarP(&benchRequests, "requests", "n", 100000, "Total number of SADD commands")
	flags.IntVarP(&benchPipeline, "pipeline", "P", 64, "Commands written per flush")
	flags.Float64Var(&benchRate, "rate", 0, "Commands per second, 0 is unlimited")
	flags.StringVar(&benchKey, "key", "conduit:bench", "The set to add members to")
}

var BenchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure pipelined SADD throughput",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if benchPipeline < 1 {
			benchPipeline = 1
		}

		c, log, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		limit := rate.Inf
		if benchRate > 0 {
			limit = rate.Limit(benchRate)
		}
		limiter := rate.NewLimiter(limit, benchPipeline)

		c.SetAutoFlush(false)

		start := time.Now()
		futures := make([]*client.Future[int64], 0, benchPipeline)

		for sent := 0; sent < benchRequests; {
			batch := benchPipeline
			if left := benchRequests - sent; left < batch {
				batch = left
			}

			if err := limiter.WaitN(ctx, batch); err != nil {
				return err
			}

			futures = futures[:0]
			for i := 0; i < batch; i++ {
				futures = append(futures, c.SAdd(benchKey, strconv.Itoa(sent+i)))
			}

			if err := c.Flush(); err != nil {
				return err
			}

			for _, f := range futures {
				if _, err := f.Wait(ctx); err != nil {
					return err
				}
			}

			sent += batch
		}

		elapsed := time.Since(start)
		log.Debug("Bench finished", zap.Int("requests", benchRequests), zap.Duration("elapsed", elapsed))

		fmt.Fprintf(cmd.OutOrStdout(), "%d requests in %s, %.0f requests/s, pipeline %d\n",
			benchRequests, elapsed, float64(benchRequests)/elapsed.Seconds(), benchPipeline)

		_, err = c.Del(benchKey).Wait(ctx)
		return err
	},
}
