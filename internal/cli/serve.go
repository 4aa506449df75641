package cli

import (
	"github.com/spf13/cobra"

	"github.com/FLClab/TiffWrapper/internal/api"
	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/runtimelog"
	"github.com/FLClab/TiffWrapper/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
	Start  bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bridge over HTTP",
		Long: `Serve exposes read and metadata calls over HTTP, records every call in
the SQLite call journal and streams the runtime's output as server-sent
events. The runtime starts on the first call unless --start is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.Start, "start", false, "start the runtime before accepting requests")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	e, err := loadEnv(opts.RootOptions, cmd, true)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		e.cfg.ListenAddr = opts.Listen
	}

	s, err := store.NewSQLiteStore(e.cfg.DBPath)
	if err != nil {
		return e.out.Fail(ExitFailure, ErrCodeStore, "open call journal", err)
	}
	defer s.Close()

	output := runtimelog.NewBroker()
	h, err := e.newHandle(bridge.WithJournal(s), bridge.WithOutput(output))
	if err != nil {
		return err
	}
	defer e.stopHandle(h)

	if opts.Start {
		if err := h.Start(); err != nil {
			return e.callFailure(err)
		}
	}

	e.logger.Info("msrbridge starting",
		"listen_addr", e.cfg.ListenAddr,
		"db_path", e.cfg.DBPath,
		"backend", e.cfg.Backend,
	)

	srv := api.NewServer(e.cfg.ListenAddr, s, e.registry, h, output, e.logger)
	if err := srv.Run(cmd.Context()); err != nil {
		return e.out.Fail(ExitFailure, ErrCodeGeneric, "serve", err)
	}
	return nil
}
