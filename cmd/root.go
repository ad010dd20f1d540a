package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/conduit/client"
	"github.com/luma/conduit/cmd/gen"
	"github.com/luma/conduit/internal/env"
)

var (
	// Server address, overrides the config
	addr string

	// Optional YAML config file
	configPath string

	debug bool
)

var RootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "A pipelined RESP client and development server",
	Long: `A pipelined RESP client and development server

Usage
	conduit serve
	conduit ping --addr 127.0.0.1:6379
	conduit subscribe news.tech news.art
	conduit publish news.tech "hello"

`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVar(&addr, "addr", "", "The server address, host:port")
	flags.StringVarP(&configPath, "config", "c", "", "A YAML config file")
	flags.BoolVar(&debug, "debug", false, "Log at debug level in a human readable format")

	RootCmd.AddCommand(ServeCmd, PingCmd, PublishCmd, SubscribeCmd, BenchCmd, VersionCmd, gen.RootCmd)
}

// Execute runs the root command, exiting non zero on failure.
func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// setup loads the config and applies the persistent flags over it.
func setup(ctx context.Context) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx, configPath)
	if err != nil {
		return nil, nil, err
	}

	if addr != "" {
		conf.Addr = addr
	}

	if debug {
		conf.Debug = true
	}

	log, err := env.MakeLogger(conf.Debug)
	if err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}

func dial(ctx context.Context) (*client.Client, *zap.Logger, error) {
	conf, log, err := setup(ctx)
	if err != nil {
		return nil, nil, err
	}

	c, err := client.Dial(ctx, conf.ClientOptions(log.Named("client")))
	if err != nil {
		return nil, nil, err
	}

	return c, log, nil
}
