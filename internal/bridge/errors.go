package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a bridge failure.
type Kind string

// Failure kinds.
const (
	// KindStartup means the runtime failed to initialize. It is sticky: the
	// handle serves no request afterward.
	KindStartup Kind = "startup"
	// KindRead and KindMetadata are local to one call.
	KindRead     Kind = "read"
	KindMetadata Kind = "metadata"
	// KindShutdown means releasing the runtime failed. It is logged and
	// not retried.
	KindShutdown Kind = "shutdown"
	// KindTimeout means the call's deadline passed before its result arrived.
	KindTimeout Kind = "timeout"
	// KindCanceled means the caller's context was canceled.
	KindCanceled Kind = "canceled"
	// KindStopped means the handle was stopped.
	KindStopped Kind = "stopped"
)

var (
	// ErrStopped is wrapped by calls made on a stopped handle.
	ErrStopped = errors.New("bridge stopped")

	// ErrRuntimeBusy is returned by Start when another handle in this
	// process already owns a live runtime worker.
	ErrRuntimeBusy = errors.New("a runtime worker is already live in this process")
)

// Error is a classified bridge failure.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	CallID string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindStartup:
		return fmt.Sprintf("runtime startup: %v", e.Err)
	case e.Kind == KindShutdown:
		return fmt.Sprintf("runtime shutdown: %v", e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func isKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

// IsStartupError reports whether err is a runtime startup failure.
func IsStartupError(err error) bool { return isKind(err, KindStartup) }

// IsReadError reports whether err is a per-call read failure.
func IsReadError(err error) bool { return isKind(err, KindRead) }

// IsMetadataError reports whether err is a per-call metadata failure.
func IsMetadataError(err error) bool { return isKind(err, KindMetadata) }

// IsShutdownError reports whether err is a runtime release failure.
func IsShutdownError(err error) bool { return isKind(err, KindShutdown) }

// IsTimeout reports whether err is a call that ran out of time.
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsStopped reports whether err comes from a stopped handle.
func IsStopped(err error) bool { return isKind(err, KindStopped) }

// IsCanceled reports whether err is a call abandoned by its caller.
func IsCanceled(err error) bool { return isKind(err, KindCanceled) }

// callError classifies a per-call failure by its command.
func callError(id string, cmd Command, path string, err error) *Error {
	kind := KindRead
	if _, ok := cmd.(GetMetadata); ok {
		kind = KindMetadata
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	}
	return &Error{Kind: kind, Op: cmd.Op(), Path: path, CallID: id, Err: err}
}
