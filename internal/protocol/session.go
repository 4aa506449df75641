package protocol

import (
	"context"
	"fmt"
	"io"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/model"
)

// Caller sends one request to the runtime peer and returns its response.
// Implementations are used by a single goroutine.
type Caller interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// StreamCaller is a Caller over a bidirectional byte stream. Requests are
// numbered and each response must echo the request's ID.
type StreamCaller struct {
	rw     io.ReadWriter
	nextID uint64
}

// NewStreamCaller creates a caller framing messages over rw.
func NewStreamCaller(rw io.ReadWriter) *StreamCaller {
	return &StreamCaller{rw: rw}
}

// Call writes req and reads exactly one response. The context is only
// checked before the request is written: abandoning a half-finished
// exchange would desynchronize the stream.
func (s *StreamCaller) Call(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	s.nextID++
	req.ID = s.nextID

	if err := WriteMessage(s.rw, &req); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", req.Op, err)
	}

	var resp Response
	if err := ReadMessage(s.rw, &resp); err != nil {
		return Response{}, fmt.Errorf("receive %s: %w", req.Op, err)
	}
	if resp.ID != req.ID {
		return Response{}, fmt.Errorf("receive %s: response id %d does not match request id %d", req.Op, resp.ID, req.ID)
	}
	return resp, nil
}

// Init sends the init request carrying the runtime's startup options.
func Init(ctx context.Context, c Caller, opts backend.InitOptions) error {
	resp, err := c.Call(ctx, Request{
		Op:            OpInit,
		ResourcePaths: opts.ResourcePaths,
		LogLevel:      opts.LogLevel,
	})
	if err != nil {
		return err
	}
	return resp.Err(OpInit)
}

// Shutdown asks the peer to release its runtime.
func Shutdown(ctx context.Context, c Caller) error {
	resp, err := c.Call(ctx, Request{Op: OpShutdown})
	if err != nil {
		return err
	}
	return resp.Err(OpShutdown)
}

// Open opens path on the peer and returns a Dataset bound to the returned
// handle.
func Open(ctx context.Context, c Caller, path string) (backend.Dataset, error) {
	resp, err := c.Call(ctx, Request{Op: OpOpen, Path: path})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(OpOpen); err != nil {
		return nil, err
	}
	for _, s := range resp.Series {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}
	return &remoteDataset{caller: c, handle: resp.Handle, series: resp.Series}, nil
}

// remoteDataset implements backend.Dataset against a protocol peer.
type remoteDataset struct {
	caller Caller
	handle int
	series []model.Series
	closed bool
}

func (d *remoteDataset) Series() []model.Series {
	return append([]model.Series(nil), d.series...)
}

func (d *remoteDataset) ReadPlane(ctx context.Context, series, z, t, c int) ([]byte, error) {
	resp, err := d.caller.Call(ctx, Request{
		Op:     OpPlane,
		Handle: d.handle,
		Series: series,
		Z:      z,
		T:      t,
		C:      c,
	})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(OpPlane); err != nil {
		return nil, err
	}
	return resp.Plane, nil
}

func (d *remoteDataset) Metadata(ctx context.Context, series int) (backend.SeriesMetadata, error) {
	resp, err := d.caller.Call(ctx, Request{Op: OpMetadata, Handle: d.handle, Series: series})
	if err != nil {
		return backend.SeriesMetadata{}, err
	}
	if err := resp.Err(OpMetadata); err != nil {
		return backend.SeriesMetadata{}, err
	}
	return backend.SeriesMetadata{Image: resp.Image, Pixels: resp.Pixels}, nil
}

func (d *remoteDataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	resp, err := d.caller.Call(context.Background(), Request{Op: OpClose, Handle: d.handle})
	if err != nil {
		return err
	}
	return resp.Err(OpClose)
}
