package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/protocol"
)

var errNotInitialized = errors.New("runtime not initialized")

// session is the per-connection state: the hosted backend and the table of
// datasets the peer has opened.
type session struct {
	factory backend.Factory
	logger  *slog.Logger

	backend    backend.Backend
	datasets   map[int]backend.Dataset
	nextHandle int
}

func newSession(factory backend.Factory, logger *slog.Logger) *session {
	return &session{
		factory:  factory,
		logger:   logger,
		datasets: make(map[int]backend.Dataset),
	}
}

// handle executes one request and builds its response. Failures are reported
// in Response.Error; the session keeps serving.
func (s *session) handle(ctx context.Context, req protocol.Request) protocol.Response {
	var (
		resp protocol.Response
		err  error
	)
	switch req.Op {
	case protocol.OpInit:
		err = s.init(ctx, req)
	case protocol.OpOpen:
		resp, err = s.open(ctx, req.Path)
	case protocol.OpPlane:
		resp, err = s.plane(ctx, req)
	case protocol.OpMetadata:
		resp, err = s.metadata(ctx, req)
	case protocol.OpClose:
		err = s.close(req.Handle)
	case protocol.OpShutdown:
		err = s.release(ctx)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		s.logger.Debug("request failed", "op", req.Op, "path", req.Path, "error", err)
		return protocol.Response{Error: err.Error()}
	}
	return resp
}

func (s *session) init(ctx context.Context, req protocol.Request) error {
	if s.backend != nil {
		return nil
	}
	b, err := s.factory()
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	opts := backend.InitOptions{
		ResourcePaths: req.ResourcePaths,
		LogLevel:      backend.NormalizeLogLevel(req.LogLevel),
	}
	if err := b.Init(ctx, opts); err != nil {
		return err
	}
	s.backend = b
	s.logger.Info("runtime initialized", "backend", b.Capabilities().Name, "log_level", opts.LogLevel)
	return nil
}

func (s *session) open(ctx context.Context, path string) (protocol.Response, error) {
	if s.backend == nil {
		return protocol.Response{}, errNotInitialized
	}
	ds, err := s.backend.Open(ctx, path)
	if err != nil {
		return protocol.Response{}, err
	}
	s.nextHandle++
	s.datasets[s.nextHandle] = ds
	return protocol.Response{Handle: s.nextHandle, Series: ds.Series()}, nil
}

func (s *session) plane(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	ds, err := s.dataset(req.Handle)
	if err != nil {
		return protocol.Response{}, err
	}
	plane, err := ds.ReadPlane(ctx, req.Series, req.Z, req.T, req.C)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Plane: plane}, nil
}

func (s *session) metadata(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	ds, err := s.dataset(req.Handle)
	if err != nil {
		return protocol.Response{}, err
	}
	md, err := ds.Metadata(ctx, req.Series)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Image: md.Image, Pixels: md.Pixels}, nil
}

func (s *session) close(handle int) error {
	ds, err := s.dataset(handle)
	if err != nil {
		return err
	}
	delete(s.datasets, handle)
	return ds.Close()
}

func (s *session) dataset(handle int) (backend.Dataset, error) {
	ds, ok := s.datasets[handle]
	if !ok {
		return nil, fmt.Errorf("unknown handle %d", handle)
	}
	return ds, nil
}

// release closes every open dataset and shuts the backend down. It is safe
// to call more than once.
func (s *session) release(ctx context.Context) error {
	for h, ds := range s.datasets {
		if err := ds.Close(); err != nil {
			s.logger.Debug("close dataset", "handle", h, "error", err)
		}
		delete(s.datasets, h)
	}
	if s.backend == nil {
		return nil
	}
	b := s.backend
	s.backend = nil
	if err := b.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown runtime: %w", err)
	}
	s.logger.Info("runtime shut down")
	return nil
}
