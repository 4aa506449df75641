// Package cli implements the msrbridge command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/backend/helper"
	"github.com/FLClab/TiffWrapper/internal/backend/wasm"
	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// NewRegistry builds the backend registry once the configuration is
	// loaded.
	NewRegistry RegistryFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RegistryFunc builds the backend registry for a loaded configuration.
type RegistryFunc func(cfg config.Config, logger *slog.Logger) *backend.Registry

// DefaultRegistry registers the helper-process and wasm backends.
func DefaultRegistry(cfg config.Config, logger *slog.Logger) *backend.Registry {
	reg := backend.NewRegistry()
	reg.Register(helper.BackendName, helper.NewFactory(cfg.Helper, logger))
	reg.Register(wasm.BackendName, wasm.NewFactory(cfg.Wasm, logger))
	return reg
}

// NewRootCommand creates the root command. A nil newRegistry uses
// DefaultRegistry.
func NewRootCommand(newRegistry RegistryFunc) *cobra.Command {
	if newRegistry == nil {
		newRegistry = DefaultRegistry
	}
	opts := &RootOptions{NewRegistry: newRegistry}

	cmd := &cobra.Command{
		Use:   "msrbridge",
		Short: "msrbridge - read microscopy measurement files through an embedded reader runtime",
		Long: `msrbridge reads multi-series microscopy measurement files (.msr and
other formats the reader runtime understands) into dense arrays and flat
metadata. All calls go through one long-lived runtime worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $"+config.EnvConfig+")")

	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewMetadataCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCallsCommand(opts))
	cmd.AddCommand(NewBackendsCommand(opts))

	return cmd
}

// Execute runs cmd and returns the process exit code. Errors from commands
// are already printed; anything else comes from argument parsing and is
// printed here as a command error.
func Execute(ctx context.Context, cmd *cobra.Command) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return ExitCommandError
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// env is the loaded configuration and the objects built from it.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *backend.Registry
	out      *OutputFormatter
}

// loadEnv loads the configuration. The logger writes to stderr: text for
// interactive commands, JSON for the service.
func loadEnv(opts *RootOptions, cmd *cobra.Command, jsonLogs bool) (*env, error) {
	out := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "load configuration", err)
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = slog.LevelDebug
	} else if !jsonLogs {
		level = max(level, slog.LevelWarn)
	}

	var logger *slog.Logger
	if jsonLogs {
		logger = config.NewLogger(cmd.ErrOrStderr(), level)
	} else {
		logger = config.NewTextLogger(cmd.ErrOrStderr(), level)
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		registry: opts.NewRegistry(cfg, logger),
		out:      out,
	}, nil
}

// newHandle builds the bridge handle for the configured backend and makes
// it the process-wide default, so the binary stops it on exit.
func (e *env) newHandle(opts ...bridge.Option) (*bridge.Handle, error) {
	factory, err := e.registry.Resolve(e.cfg.Backend)
	if err != nil {
		return nil, e.out.Fail(ExitCommandError, ErrCodeUnknownBackend,
			fmt.Sprintf("backend %q is not available (registered: %v)", e.cfg.Backend, e.registry.Names()), err)
	}

	opts = append([]bridge.Option{
		bridge.WithLogger(e.logger),
		bridge.WithInitOptions(e.cfg.InitOptions()),
		bridge.WithCallTimeout(e.cfg.CallTimeout),
	}, opts...)
	h := bridge.New(factory, opts...)
	bridge.SetDefault(h)

	e.out.VerboseLog("backend %s, runtime log level %s, call timeout %s",
		e.cfg.Backend, e.cfg.RuntimeLogLevel, e.cfg.CallTimeout)
	return h, nil
}

// stopHandle stops h and reports a failed shutdown on stderr.
func (e *env) stopHandle(h *bridge.Handle) {
	if err := h.Stop(); err != nil {
		e.logger.Error("stop runtime", "error", err)
	}
}

// callFailure prints a bridge call error and converts it to an exit error.
func (e *env) callFailure(err error) error {
	code := ErrCodeGeneric
	switch {
	case bridge.IsStartupError(err):
		code = ErrCodeStartup
	case bridge.IsTimeout(err):
		code = ErrCodeTimeout
	case bridge.IsStopped(err):
		code = ErrCodeStopped
	case bridge.IsCanceled(err):
		code = ErrCodeCanceled
	case bridge.IsReadError(err):
		code = ErrCodeRead
	case bridge.IsMetadataError(err):
		code = ErrCodeMetadata
	}
	return e.out.Fail(ExitFailure, code, err.Error(), nil)
}
