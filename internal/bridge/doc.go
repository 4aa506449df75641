// Package bridge confines a non-thread-safe reader runtime to one dedicated
// worker goroutine and exposes synchronous read and metadata calls to any
// number of concurrent callers.
//
// Callers go through a Handle (or the stateless Reader facade on top of it).
// Each call becomes a Command on an unbounded FIFO queue; the worker, pinned
// to a single OS thread, executes commands one at a time against the
// backend and hands each outcome back through a per-call result slot.
//
// Lifecycle of a Handle:
//
//	uninitialized --Start/Send--> running --Stop--> stopped --Start--> running
//	uninitialized --Start fails--> failed (sticky)
//
// At most one runtime worker is live per process across all handles.
package bridge
