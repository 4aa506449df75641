package helper

import "time"

// BackendName is the name used when registering with the backend registry.
const BackendName = "helper"

// Transports for reaching the helper process.
const (
	// TransportExec spawns the helper and speaks over its stdin/stdout.
	TransportExec = "exec"

	// TransportUnix connects to a helper listening on a Unix socket.
	TransportUnix = "unix"

	// TransportVsock connects to a helper over AF_VSOCK (CID:port).
	TransportVsock = "vsock"

	// TransportVsockUDS connects through a Firecracker vsock UDS bridge.
	TransportVsockUDS = "vsock-uds"
)

// Transports lists every supported transport.
var Transports = []string{TransportExec, TransportUnix, TransportVsock, TransportVsockUDS}

// Default vsock settings.
const (
	// DefaultVsockPort is the port msr-agent listens on inside a microVM.
	DefaultVsockPort uint32 = 1024

	// MinCID is the minimum context ID for vsock; CIDs 0-2 are reserved.
	MinCID uint32 = 3
)

// DefaultCommand is the helper spawned by the exec transport.
const DefaultCommand = "msr-agent"

// DefaultArgs makes msr-agent serve a single session over stdio.
var DefaultArgs = []string{"--listen", "stdio"}

// gracefulShutdownTimeout is the time the helper gets to answer the shutdown
// request and exit before it is killed.
var gracefulShutdownTimeout = 3 * time.Second
