// Package wasm implements a Backend that embeds the reader runtime in the
// bridge process: a WASI reader module executed by wazero. A wazero module
// instance is not safe for concurrent calls, which is exactly the runtime
// shape the bridge worker is built to confine.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/protocol"
)

// BackendName is the name used when registering with the backend registry.
const BackendName = "wasm"

// EnvLogLevel carries the runtime verbosity into the guest.
const EnvLogLevel = "MSR_LOG_LEVEL"

// reactorInit is the WASI reactor initializer, run at instantiation when
// the module exports it.
const reactorInit = "_initialize"

var errNotInitialized = errors.New("wasm runtime not initialized")

// Backend implements backend.Backend on a wazero runtime.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	runtime wazero.Runtime
	caller  *moduleCaller
	closed  bool
}

// NewBackend creates a wasm backend. The module is loaded by Init.
func NewBackend(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Backend{cfg: cfg, logger: logger}
}

// NewFactory returns a factory producing a fresh wasm backend per call.
func NewFactory(cfg Config, logger *slog.Logger) backend.Factory {
	return func() (backend.Backend, error) {
		return NewBackend(cfg, logger), nil
	}
}

// Init compiles and instantiates the reader module, then sends it the init
// request. Any failure leaves the backend unusable.
func (b *Backend) Init(ctx context.Context, opts backend.InitOptions) error {
	if b.closed {
		return errors.New("wasm backend already shut down")
	}
	if b.runtime != nil {
		return errors.New("wasm backend already initialized")
	}

	if err := b.instantiate(ctx, opts); err != nil {
		b.close(ctx)
		return err
	}
	if err := protocol.Init(ctx, b.caller, opts); err != nil {
		b.close(ctx)
		return fmt.Errorf("init wasm runtime: %w", err)
	}
	return nil
}

func (b *Backend) instantiate(ctx context.Context, opts backend.InitOptions) error {
	start := time.Now()

	path := modulePath(b.cfg, opts.ResourcePaths)
	if path == "" {
		return errors.New("no reader module configured: set a module path or a .wasm resource path")
	}
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read reader module: %w", err)
	}

	rtCfg := wazero.NewRuntimeConfig()
	if b.cfg.MemoryLimitPages > 0 {
		rtCfg = rtCfg.WithMemoryLimitPages(b.cfg.MemoryLimitPages)
	}
	if b.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(b.cfg.CacheDir)
		if err != nil {
			return fmt.Errorf("open compilation cache: %w", err)
		}
		rtCfg = rtCfg.WithCompilationCache(cache)
	}
	b.runtime = wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, b.runtime); err != nil {
		return fmt.Errorf("instantiate wasi: %w", err)
	}

	compiled, err := b.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("compile reader module %s: %w", path, err)
	}

	fsCfg := wazero.NewFSConfig()
	for _, dir := range b.cfg.Mounts {
		fsCfg = fsCfg.WithReadOnlyDirMount(dir, dir)
	}
	output := &lineWriter{logger: b.logger, output: opts.Output}
	modCfg := wazero.NewModuleConfig().
		WithName("msr-reader").
		WithStartFunctions(reactorInit).
		WithFSConfig(fsCfg).
		WithEnv(EnvLogLevel, opts.LogLevel).
		WithStdout(output).
		WithStderr(output).
		WithSysWalltime().
		WithSysNanotime()

	mod, err := b.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return fmt.Errorf("instantiate reader module: %w", err)
	}

	caller, err := newModuleCaller(mod)
	if err != nil {
		return err
	}
	b.caller = caller

	b.logger.Info("wasm runtime started",
		"module", path,
		"log_level", opts.LogLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// modulePath picks the configured module, falling back to the first .wasm
// resource path.
func modulePath(cfg Config, resourcePaths []string) string {
	if cfg.ModulePath != "" {
		return cfg.ModulePath
	}
	for _, p := range resourcePaths {
		if strings.HasSuffix(p, ".wasm") {
			return p
		}
	}
	return ""
}

// Open opens path in the guest reader.
func (b *Backend) Open(ctx context.Context, path string) (backend.Dataset, error) {
	if b.caller == nil || b.closed {
		return nil, errNotInitialized
	}
	return protocol.Open(ctx, b.caller, path)
}

// Shutdown sends the shutdown request and closes the wazero runtime. A
// second call is a no-op.
func (b *Backend) Shutdown(ctx context.Context) error {
	if b.closed {
		return nil
	}
	var err error
	if b.caller != nil {
		err = protocol.Shutdown(ctx, b.caller)
	}
	if closeErr := b.close(ctx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Capabilities reports an in-process backend.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:      BackendName,
		Transport: "in-process",
		InProcess: true,
	}
}

func (b *Backend) close(ctx context.Context) error {
	b.closed = true
	b.caller = nil
	if b.runtime == nil {
		return nil
	}
	rt := b.runtime
	b.runtime = nil
	if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("close wasm runtime: %w", err)
	}
	return nil
}
