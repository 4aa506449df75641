// Package agent serves the runtime protocol on behalf of a hosted backend.
// It runs inside msr-agent, either as a child process speaking over stdio or
// inside a microVM listening on vsock, and lets the helper backend drive a
// runtime it cannot host itself.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/protocol"
)

// Agent accepts protocol sessions and serves them one at a time. Each session
// gets a fresh backend from the factory, created on its init request and
// released on shutdown or when the session ends.
type Agent struct {
	listener net.Listener
	factory  backend.Factory
	logger   *slog.Logger
}

// New creates an agent serving sessions accepted from listener. A nil
// listener is allowed when only ServeConn is used.
func New(listener net.Listener, factory backend.Factory, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{
		listener: listener,
		factory:  factory,
		logger:   logger,
	}
}

// Serve accepts connections until the listener is closed or ctx is done.
// Sessions are served sequentially: the hosted runtime is not thread-safe,
// so a second client waits in the accept backlog.
func (a *Agent) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { a.listener.Close() })
	defer stop()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if err := a.ServeConn(ctx, conn); err != nil {
			a.logger.Warn("session ended with error", "remote", conn.RemoteAddr(), "error", err)
		}
		conn.Close()
	}
}

// StdioConn joins a reader and a writer into the stream ServeConn expects,
// typically os.Stdin and os.Stdout.
type StdioConn struct {
	io.Reader
	io.Writer
}

// ServeConn serves one session over rw until the peer sends shutdown or
// closes the stream.
func (a *Agent) ServeConn(ctx context.Context, rw io.ReadWriter) error {
	s := newSession(a.factory, a.logger)
	defer s.release(context.WithoutCancel(ctx))

	for {
		var req protocol.Request
		if err := protocol.ReadMessage(rw, &req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		resp := s.handle(ctx, req)
		resp.ID = req.ID
		if err := protocol.WriteMessage(rw, &resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if req.Op == protocol.OpShutdown {
			return nil
		}
	}
}
