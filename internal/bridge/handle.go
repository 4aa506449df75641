package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/model"
)

// DefaultCallTimeout bounds a call from enqueue to result when no
// WithCallTimeout option is given.
const DefaultCallTimeout = 10 * time.Minute

// State is the lifecycle state of a Handle.
type State string

// Handle states.
const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

// Journal records completed calls. Implementations must be safe for
// concurrent use.
type Journal interface {
	RecordCall(ctx context.Context, rec *model.CallRecord) error
}

// OutputSink receives the runtime's own output, keyed by runtime ID. Close
// is called once the runtime has exited.
type OutputSink interface {
	Publish(runtimeID, source, line string)
	Close(runtimeID string)
}

// liveRuntime is the handle whose worker currently owns the process's
// runtime, if any.
var liveRuntime atomic.Pointer[Handle]

// Handle owns at most one runtime worker and serializes every call to it.
// It is safe for concurrent use.
type Handle struct {
	factory     backend.Factory
	logger      *slog.Logger
	initOpts    backend.InitOptions
	callTimeout time.Duration
	journal     Journal
	output      OutputSink

	mu        sync.Mutex
	state     State
	worker    *worker
	caps      backend.Capabilities
	startErr  error
	startedAt time.Time
	runtimeID string

	// ready is closed when the startup in progress ends.
	ready chan struct{}
	// drained is closed when a stopping runtime has been released.
	drained chan struct{}
}

// Option configures a Handle.
type Option func(*Handle)

// WithLogger sets the handle's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handle) { h.logger = l }
}

// WithInitOptions sets the options the runtime is initialized with.
func WithInitOptions(opts backend.InitOptions) Option {
	return func(h *Handle) { h.initOpts = opts }
}

// WithCallTimeout bounds each call from enqueue to result. Zero disables
// the bound; the caller's context still applies.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Handle) { h.callTimeout = d }
}

// WithJournal records every completed call.
func WithJournal(j Journal) Option {
	return func(h *Handle) { h.journal = j }
}

// WithOutput streams every line the runtime prints to sink.
func WithOutput(sink OutputSink) Option {
	return func(h *Handle) { h.output = sink }
}

// New creates an uninitialized handle. The runtime is built by factory when
// the handle starts, either explicitly or on the first call.
func New(factory backend.Factory, opts ...Option) *Handle {
	h := &Handle{
		factory:     factory,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		initOpts:    backend.InitOptions{LogLevel: backend.DefaultLogLevel},
		callTimeout: DefaultCallTimeout,
		state:       StateUninitialized,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.initOpts.LogLevel = backend.NormalizeLogLevel(h.initOpts.LogLevel)
	return h
}

// Start launches the runtime worker and waits for the runtime to
// initialize. It is a no-op while running and joins a startup already in
// progress. A stopped handle can be started again with a fresh runtime once
// the previous one is released; a failed one returns its startup error.
func (h *Handle) Start() error {
	for {
		h.mu.Lock()
		switch h.state {
		case StateRunning:
			h.mu.Unlock()
			return nil
		case StateFailed:
			err := h.startErr
			h.mu.Unlock()
			return err
		case StateStarting:
			ready := h.ready
			h.mu.Unlock()
			<-ready
			continue
		case StateStopped:
			if drained := h.drained; drained != nil {
				h.mu.Unlock()
				<-drained
				continue
			}
		}

		ready, err := h.beginStartLocked()
		h.mu.Unlock()
		if err != nil {
			return err
		}
		<-ready
	}
}

// beginStartLocked claims the process-wide runtime slot, moves the handle
// to starting and launches the runtime in the background. The returned
// channel is closed once the handle is running or failed.
func (h *Handle) beginStartLocked() (<-chan struct{}, error) {
	if !liveRuntime.CompareAndSwap(nil, h) {
		return nil, &Error{Kind: KindStartup, Op: "start", Err: ErrRuntimeBusy}
	}

	h.runtimeID = model.NewID()
	h.state = StateStarting
	h.ready = make(chan struct{})

	go h.launch(h.ready, h.runtimeOptions())
	return h.ready, nil
}

// launch builds the backend and waits for its worker to initialize. It runs
// without h.mu so callers waiting on startup can give up on their own
// deadlines.
func (h *Handle) launch(ready chan struct{}, opts backend.InitOptions) {
	defer close(ready)
	start := time.Now()

	b, err := h.factory()
	if err != nil {
		h.fail(err)
		return
	}

	w := newWorker(b, opts, h.logger)
	go w.run()

	if err := <-w.ready; err != nil {
		<-w.done
		h.fail(err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.worker = w
	h.caps = b.Capabilities()
	h.state = StateRunning
	h.startedAt = time.Now()
	runtimeUp.Set(1)

	h.logger.Info("runtime started",
		"runtime_id", h.runtimeID,
		"backend", h.caps.Name,
		"transport", h.caps.Transport,
		"log_level", h.initOpts.LogLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// runtimeOptions returns the init options for the runtime being started,
// with its output routed to the sink under the new runtime ID.
func (h *Handle) runtimeOptions() backend.InitOptions {
	opts := h.initOpts
	if h.output != nil {
		sink, id := h.output, h.runtimeID
		opts.Output = func(source, line string) { sink.Publish(id, source, line) }
	}
	return opts
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.output != nil {
		h.output.Close(h.runtimeID)
	}
	liveRuntime.CompareAndSwap(h, nil)
	h.state = StateFailed
	h.startErr = &Error{Kind: KindStartup, Op: "start", Err: err}
	h.logger.Error("runtime startup failed", "runtime_id", h.runtimeID, "error", err)
}

// Stop shuts the worker down and releases the runtime. Commands still
// queued fail with ErrStopped; the command in flight completes first. Stop
// is idempotent and returns once the runtime is released. Calling it before
// the handle ever started also moves it to stopped, so no later call starts
// a runtime implicitly. A startup in progress is allowed to finish first.
//
// The handle is marked stopped before the worker drains, so Send and Status
// never wait on a slow or hung runtime.
func (h *Handle) Stop() error {
	h.mu.Lock()
	for h.state == StateStarting {
		ready := h.ready
		h.mu.Unlock()
		<-ready
		h.mu.Lock()
	}

	switch h.state {
	case StateUninitialized:
		h.state = StateStopped
		h.mu.Unlock()
		return nil
	case StateStopped:
		drained := h.drained
		h.mu.Unlock()
		if drained != nil {
			<-drained
		}
		return nil
	case StateFailed:
		h.mu.Unlock()
		return nil
	}

	w := h.worker
	h.worker = nil
	h.state = StateStopped
	drained := make(chan struct{})
	h.drained = drained
	runtimeID, startedAt := h.runtimeID, h.startedAt
	pending := w.queue.Close()
	h.mu.Unlock()

	for _, req := range pending {
		req.slot.deliver(outcome{err: stoppedError(req.id, req.cmd)})
	}
	<-w.done

	h.mu.Lock()
	if h.output != nil {
		h.output.Close(runtimeID)
	}
	liveRuntime.CompareAndSwap(h, nil)
	runtimeUp.Set(0)
	queueDepth.Set(0)
	h.drained = nil
	close(drained)
	h.mu.Unlock()

	if w.shutdownErr != nil {
		h.logger.Error("runtime shutdown failed", "runtime_id", runtimeID, "error", w.shutdownErr)
		return &Error{Kind: KindShutdown, Op: "stop", Err: w.shutdownErr}
	}
	h.logger.Info("runtime stopped", "runtime_id", runtimeID, "uptime_ms", time.Since(startedAt).Milliseconds())
	return nil
}

func stoppedError(id string, cmd Command) *Error {
	return &Error{Kind: KindStopped, Op: cmd.Op(), Path: cmd.Target(), CallID: id, Err: ErrStopped}
}

// Send enqueues cmd and blocks until its result arrives, the call timeout
// passes or ctx is done. An uninitialized handle is started first.
func (h *Handle) Send(ctx context.Context, cmd Command) (Result, error) {
	id := model.NewID()
	start := time.Now()

	if h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.callTimeout)
		defer cancel()
	}

	req := &request{id: id, cmd: cmd, ctx: ctx, slot: newSlot()}
	if err := h.enqueue(req); err != nil {
		h.finish(ctx, req, start, Result{}, err)
		return Result{}, err
	}

	var (
		res Result
		err error
	)
	select {
	case o := <-req.slot:
		res, err = o.result, o.err
	case <-ctx.Done():
		err = callError(id, cmd, cmd.Target(), ctx.Err())
	}
	h.finish(ctx, req, start, res, err)
	return res, err
}

// enqueue queues req on the running worker, starting an uninitialized
// handle first. Waiting on a startup in progress honors req.ctx.
func (h *Handle) enqueue(req *request) error {
	for {
		h.mu.Lock()
		switch h.state {
		case StateUninitialized:
			_, err := h.beginStartLocked()
			h.mu.Unlock()
			if err != nil {
				return err
			}
			continue
		case StateStarting:
			ready := h.ready
			h.mu.Unlock()
			select {
			case <-ready:
			case <-req.ctx.Done():
				return callError(req.id, req.cmd, req.cmd.Target(), req.ctx.Err())
			}
			continue
		case StateStopped:
			h.mu.Unlock()
			return stoppedError(req.id, req.cmd)
		case StateFailed:
			err := h.startErr
			h.mu.Unlock()
			return err
		}

		ok := h.worker.queue.Enqueue(req)
		depth := h.worker.queue.Len()
		h.mu.Unlock()
		if !ok {
			return stoppedError(req.id, req.cmd)
		}
		queueDepth.Set(float64(depth))
		return nil
	}
}

// finish records metrics, the log line and the journal entry for one call.
func (h *Handle) finish(ctx context.Context, req *request, start time.Time, res Result, err error) {
	duration := time.Since(start)
	op := req.cmd.Op()

	status := model.CallStatusOK
	switch {
	case IsTimeout(err):
		status = model.CallStatusTimeout
	case err != nil:
		status = model.CallStatusFailed
	}
	callsTotal.WithLabelValues(op, status).Inc()
	callDuration.WithLabelValues(op).Observe(duration.Seconds())

	seriesCount := len(res.Images) + len(res.Metadata)
	if err != nil {
		h.logger.Warn("call failed", "op", op, "path", req.cmd.Target(), "call_id", req.id, "error", err)
	} else {
		h.logger.Debug("call completed",
			"op", op,
			"path", req.cmd.Target(),
			"call_id", req.id,
			"series", seriesCount,
			"duration_ms", duration.Milliseconds(),
		)
	}

	if h.journal == nil {
		return
	}
	rec := &model.CallRecord{
		ID:          req.id,
		Op:          op,
		Path:        req.cmd.Target(),
		Status:      status,
		SeriesCount: seriesCount,
		DurationMS:  int(duration.Milliseconds()),
		CreatedAt:   start.UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := h.journal.RecordCall(context.WithoutCancel(ctx), rec); jerr != nil {
		h.logger.Error("failed to journal call", "call_id", req.id, "error", jerr)
	}
}

// Read loads every series of the file at path.
func (h *Handle) Read(ctx context.Context, path string) (model.ImageBundle, error) {
	res, err := h.Send(ctx, Read{Path: path})
	if err != nil {
		return nil, err
	}
	return res.Images, nil
}

// GetMetadata returns the metadata fields of every series of the file at path.
func (h *Handle) GetMetadata(ctx context.Context, path string) (model.MetadataBundle, error) {
	res, err := h.Send(ctx, GetMetadata{Path: path})
	if err != nil {
		return nil, err
	}
	return res.Metadata, nil
}

// Status is a snapshot of a handle for diagnostics.
type Status struct {
	State      State                `json:"state"`
	RuntimeID  string               `json:"runtime_id,omitempty"`
	Backend    backend.Capabilities `json:"backend"`
	QueueDepth int                  `json:"queue_depth"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Status returns the handle's current state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{State: h.state, RuntimeID: h.runtimeID, Backend: h.caps}
	if h.worker != nil {
		st.QueueDepth = h.worker.queue.Len()
		started := h.startedAt.UTC()
		st.StartedAt = &started
	}
	if h.startErr != nil {
		st.Error = h.startErr.Error()
	}
	return st
}

// State returns the handle's lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

var (
	defaultMu     sync.Mutex
	defaultHandle *Handle
)

// SetDefault installs h as the process-wide handle used by NewReader(nil)
// and stopped by Shutdown. It returns the previous default, if any.
func SetDefault(h *Handle) *Handle {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultHandle
	defaultHandle = h
	return prev
}

// Default returns the process-wide handle, or nil if none was set.
func Default() *Handle {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultHandle
}

// ErrNoDefault is returned by Reader calls when no process-wide handle is set.
var ErrNoDefault = errors.New("no default bridge handle configured")

// Shutdown stops the process-wide handle. Binaries call it before exiting
// so the runtime is always released with the process.
func Shutdown() error {
	h := Default()
	if h == nil {
		return nil
	}
	return h.Stop()
}
