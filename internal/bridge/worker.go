package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/model"
)

// worker owns one backend from Init to Shutdown. Every call into the
// backend happens on the worker goroutine, which stays locked to a single
// OS thread for its whole life.
type worker struct {
	backend backend.Backend
	opts    backend.InitOptions
	queue   *commandQueue
	logger  *slog.Logger

	// ready receives the Init outcome exactly once.
	ready chan error
	// done is closed when the worker has exited, after Shutdown.
	done chan struct{}
	// shutdownErr is written before done is closed.
	shutdownErr error
}

func newWorker(b backend.Backend, opts backend.InitOptions, logger *slog.Logger) *worker {
	return &worker{
		backend: b,
		opts:    opts,
		queue:   newCommandQueue(),
		logger:  logger,
		ready:   make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// run initializes the runtime and serves commands until the queue is closed.
func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	ctx := context.Background()

	start := time.Now()
	if err := w.backend.Init(ctx, w.opts); err != nil {
		w.ready <- err
		return
	}
	runtimeStartup.Observe(time.Since(start).Seconds())
	w.ready <- nil

	for {
		req, ok := w.queue.Dequeue()
		if !ok {
			break
		}
		queueDepth.Set(float64(w.queue.Len()))
		w.serve(req)
	}

	w.shutdownErr = w.backend.Shutdown(ctx)
}

// serve executes one request and delivers its outcome. A failing or
// panicking command only fails that call.
func (w *worker) serve(req *request) {
	if err := req.ctx.Err(); err != nil {
		w.logger.Debug("skipping expired command", "op", req.cmd.Op(), "call_id", req.id)
		req.slot.deliver(outcome{err: callError(req.id, req.cmd, req.cmd.Target(), err)})
		return
	}

	var o outcome
	func() {
		defer func() {
			if p := recover(); p != nil {
				w.logger.Error("command panicked", "op", req.cmd.Op(), "call_id", req.id, "panic", p)
				o = outcome{err: callError(req.id, req.cmd, req.cmd.Target(), fmt.Errorf("runtime panic: %v", p))}
			}
		}()
		o = w.execute(req)
	}()
	req.slot.deliver(o)
}

func (w *worker) execute(req *request) outcome {
	path, err := filepath.Abs(req.cmd.Target())
	if err != nil {
		return outcome{err: callError(req.id, req.cmd, req.cmd.Target(), err)}
	}

	res := Result{ID: req.id, Seq: req.seq}
	switch cmd := req.cmd.(type) {
	case Read:
		res.Images, err = w.read(req.ctx, path)
	case GetMetadata:
		res.Metadata, err = w.metadata(req.ctx, path)
	default:
		err = fmt.Errorf("unsupported command %T", cmd)
	}
	if err != nil {
		return outcome{err: callError(req.id, req.cmd, path, err)}
	}
	return outcome{result: res}
}

// read returns every series of the file as a (Z, T, C, Y, X) array with
// singleton axes removed.
func (w *worker) read(ctx context.Context, path string) (model.ImageBundle, error) {
	ds, err := w.backend.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer w.closeDataset(ds, path)

	bundle := make(model.ImageBundle)
	taken := func(name string) bool { _, ok := bundle[name]; return ok }
	for _, s := range ds.Series() {
		arr, err := readSeries(ctx, ds, s)
		if err != nil {
			return nil, err
		}
		bundle[model.SeriesKey(s, taken)] = arr
	}
	return bundle, nil
}

func readSeries(ctx context.Context, ds backend.Dataset, s model.Series) (model.Array, error) {
	arr, err := model.NewArray(s.DType, s.SizeZ, s.SizeT, s.SizeC, s.SizeY, s.SizeX)
	if err != nil {
		return model.Array{}, fmt.Errorf("series %d: %w", s.Index, err)
	}

	planeBytes := s.PlaneBytes()
	for z := 0; z < s.SizeZ; z++ {
		for t := 0; t < s.SizeT; t++ {
			for c := 0; c < s.SizeC; c++ {
				if err := ctx.Err(); err != nil {
					return model.Array{}, err
				}
				plane, err := ds.ReadPlane(ctx, s.Index, z, t, c)
				if err != nil {
					return model.Array{}, fmt.Errorf("series %d plane (z=%d, t=%d, c=%d): %w", s.Index, z, t, c, err)
				}
				if len(plane) != planeBytes {
					return model.Array{}, fmt.Errorf("series %d plane (z=%d, t=%d, c=%d): got %d bytes, want %d",
						s.Index, z, t, c, len(plane), planeBytes)
				}
				off := ((z*s.SizeT+t)*s.SizeC + c) * planeBytes
				copy(arr.Data[off:off+planeBytes], plane)
			}
		}
	}
	return arr.Squeeze(), nil
}

// metadata returns the merged image and pixel fields of every series.
func (w *worker) metadata(ctx context.Context, path string) (model.MetadataBundle, error) {
	ds, err := w.backend.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer w.closeDataset(ds, path)

	bundle := make(model.MetadataBundle)
	taken := func(name string) bool { _, ok := bundle[name]; return ok }
	for _, s := range ds.Series() {
		md, err := ds.Metadata(ctx, s.Index)
		if err != nil {
			return nil, fmt.Errorf("series %d: %w", s.Index, err)
		}
		bundle[model.SeriesKey(s, taken)] = md.Merge()
	}
	return bundle, nil
}

func (w *worker) closeDataset(ds backend.Dataset, path string) {
	if err := ds.Close(); err != nil {
		w.logger.Warn("close dataset", "path", path, "error", err)
	}
}
