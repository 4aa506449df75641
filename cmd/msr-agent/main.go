// Command msr-agent hosts the wasm reader runtime behind the bridge protocol.
// The helper backend spawns it over stdio, or reaches it on a unix socket or
// on vsock inside a microVM.
//
// Build for a microVM with: CGO_ENABLED=0 GOOS=linux go build -o msr-agent ./cmd/msr-agent
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FLClab/TiffWrapper/internal/agent"
	"github.com/FLClab/TiffWrapper/internal/backend/wasm"
	"github.com/FLClab/TiffWrapper/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "msr-agent: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		listen   string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "msr-agent",
		Short:         "Serve the reader runtime over the bridge protocol",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol in stdio mode, so logs go to stderr.
			logger := config.NewLogger(os.Stderr, config.ParseLogLevel(logLevel))
			agent.SetupInit(logger)

			addr, err := agent.ParseListenAddr(listen)
			if err != nil {
				return err
			}

			factory := wasm.NewFactory(wasm.LoadConfig(), logger)

			if addr.Kind == agent.ListenStdio {
				a := agent.New(nil, factory, logger)
				logger.Info("msr-agent serving on stdio")
				return a.ServeConn(cmd.Context(), agent.StdioConn{Reader: os.Stdin, Writer: os.Stdout})
			}

			l, err := addr.Listener()
			if err != nil {
				return err
			}
			defer l.Close()

			logger.Info("msr-agent listening", "addr", addr.String())
			return agent.New(l, factory, logger).Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", agent.ListenStdio, "stdio, unix:PATH or vsock:PORT")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "agent log level (debug|info|warn|error)")

	return cmd
}
