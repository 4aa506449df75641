// Package helper implements a Backend whose runtime lives in a separate
// helper process: a child spawned over stdio, a local daemon on a Unix
// socket, or msr-agent inside a microVM reached over vsock.
package helper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/protocol"
)

var errNotInitialized = errors.New("helper runtime not initialized")

// Backend implements backend.Backend by forwarding every call to a helper
// over the length-prefixed protocol. Like every Backend it is driven by a
// single goroutine.
type Backend struct {
	cfg    Config
	logger *slog.Logger
	output backend.OutputFunc

	conn       io.ReadWriteCloser
	caller     protocol.Caller
	cmd        *exec.Cmd
	stderrDone chan struct{}
	closed     bool
}

// NewBackend creates a helper backend. Nothing is spawned or dialed until Init.
func NewBackend(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Backend{cfg: cfg, logger: logger}
}

// NewFactory returns a factory producing a fresh helper backend per call.
func NewFactory(cfg Config, logger *slog.Logger) backend.Factory {
	return func() (backend.Backend, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return NewBackend(cfg, logger), nil
	}
}

// Init connects to the helper and sends the init request.
func (b *Backend) Init(ctx context.Context, opts backend.InitOptions) error {
	if b.closed {
		return errors.New("helper backend already shut down")
	}
	if b.caller != nil {
		return errors.New("helper backend already initialized")
	}

	b.output = opts.Output

	start := time.Now()
	if err := b.connect(ctx); err != nil {
		return err
	}
	b.caller = instrumentedCaller{next: protocol.NewStreamCaller(b.conn)}
	activeHelpers.Inc()

	if err := protocol.Init(ctx, b.caller, opts); err != nil {
		b.teardown()
		b.caller = nil
		b.closed = true
		return fmt.Errorf("init helper runtime: %w", err)
	}
	connectDuration.Observe(time.Since(start).Seconds())

	b.logger.Info("helper runtime started",
		"transport", b.cfg.Transport,
		"log_level", opts.LogLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Open opens path in the helper's runtime.
func (b *Backend) Open(ctx context.Context, path string) (backend.Dataset, error) {
	if b.caller == nil {
		return nil, errNotInitialized
	}
	return protocol.Open(ctx, b.caller, path)
}

// Shutdown asks the helper to release its runtime, then closes the
// connection. A helper that does not answer within the grace period is
// killed. A second call is a no-op.
func (b *Backend) Shutdown(ctx context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.caller == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, gracefulShutdownTimeout)
	defer cancel()
	// Closing the connection unblocks a helper that stopped reading or writing.
	stop := context.AfterFunc(sctx, func() { b.conn.Close() })
	defer stop()

	err := protocol.Shutdown(sctx, b.caller)
	if errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("helper did not acknowledge shutdown within %s", gracefulShutdownTimeout)
	}
	b.teardown()
	return err
}

// Capabilities reports the helper transport.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:      BackendName,
		Transport: b.cfg.Transport,
		InProcess: false,
	}
}

func (b *Backend) connect(ctx context.Context) error {
	if b.cfg.Transport == TransportExec {
		return b.spawn()
	}
	conn, err := Dial(ctx, b.cfg)
	if err != nil {
		return err
	}
	b.conn = conn
	return nil
}

// pipeConn is the helper's stdout and stdin as one stream. Closing it closes
// stdin, which the helper sees as end of session.
type pipeConn struct {
	io.Reader
	io.WriteCloser
}

// spawn starts the helper process. It is not bound to the Init context: the
// process lives until Shutdown.
func (b *Backend) spawn() error {
	cmd := exec.Command(b.cfg.Command, b.cfg.Args...)
	cmd.Env = append(os.Environ(), b.cfg.Env...)
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start helper %s: %w", b.cfg.Command, err)
	}

	b.cmd = cmd
	b.conn = pipeConn{Reader: stdout, WriteCloser: stdin}
	b.stderrDone = make(chan struct{})
	go func() {
		defer close(b.stderrDone)
		b.forwardStderr(stderr)
	}()

	b.logger.Debug("helper process started", "command", b.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

// forwardStderr copies the helper's diagnostic output into the log.
func (b *Backend) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		b.logger.Debug("helper output", "source", BackendName, "line", line)
		if b.output != nil {
			b.output(BackendName, line)
		}
	}
}

// teardown closes the connection and reaps the helper process, killing it
// if it has not exited within the grace period.
func (b *Backend) teardown() {
	if b.conn != nil {
		b.conn.Close()
	}
	activeHelpers.Dec()

	if b.cmd == nil {
		return
	}

	exited := make(chan error, 1)
	go func() {
		<-b.stderrDone
		exited <- b.cmd.Wait()
	}()

	select {
	case err := <-exited:
		if err != nil {
			b.logger.Debug("helper exited", "error", err)
		}
	case <-time.After(gracefulShutdownTimeout):
		b.logger.Warn("helper did not exit, killing", "pid", b.cmd.Process.Pid)
		if err := b.cmd.Process.Kill(); err != nil {
			b.logger.Debug("kill helper failed", "error", err)
		}
		<-exited
	}
	b.cmd = nil
}
