package agent

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// Listen address kinds accepted by ParseListenAddr.
const (
	ListenStdio = "stdio"
	ListenUnix  = "unix"
	ListenVsock = "vsock"
)

// ListenAddr is a parsed msr-agent listen address.
type ListenAddr struct {
	Kind string
	Path string // unix socket path
	Port uint32 // vsock port
}

// ParseListenAddr parses "stdio", "unix:PATH" or "vsock:PORT".
func ParseListenAddr(s string) (ListenAddr, error) {
	if s == ListenStdio {
		return ListenAddr{Kind: ListenStdio}, nil
	}

	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return ListenAddr{}, fmt.Errorf("invalid listen address %q: want stdio, unix:PATH or vsock:PORT", s)
	}
	switch kind {
	case ListenUnix:
		return ListenAddr{Kind: ListenUnix, Path: rest}, nil
	case ListenVsock:
		port, err := strconv.ParseUint(rest, 10, 32)
		if err != nil || port == 0 {
			return ListenAddr{}, fmt.Errorf("invalid vsock port %q", rest)
		}
		return ListenAddr{Kind: ListenVsock, Port: uint32(port)}, nil
	default:
		return ListenAddr{}, fmt.Errorf("unknown listen kind %q", kind)
	}
}

// Listener opens the listener for a unix or vsock address.
func (a ListenAddr) Listener() (net.Listener, error) {
	switch a.Kind {
	case ListenUnix:
		l, err := net.Listen("unix", a.Path)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", a.Path, err)
		}
		return l, nil
	case ListenVsock:
		l, err := vsock.Listen(a.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("vsock listen on port %d: %w", a.Port, err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("%s address has no listener", a.Kind)
	}
}

func (a ListenAddr) String() string {
	switch a.Kind {
	case ListenUnix:
		return ListenUnix + ":" + a.Path
	case ListenVsock:
		return ListenVsock + ":" + strconv.FormatUint(uint64(a.Port), 10)
	default:
		return a.Kind
	}
}
