package helper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
)

// Retry defaults for connection establishment.
const (
	dialMaxRetries  = 5
	dialBaseBackoff = 100 * time.Millisecond
)

// helperConn is a connection to a listening helper. Reads go through reader,
// which keeps any bytes buffered during the vsock-uds handshake.
type helperConn struct {
	net.Conn
	reader io.Reader
}

func (c *helperConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

// dialer opens one connection attempt.
type dialer func(ctx context.Context) (*helperConn, error)

// Dial connects to a helper listening on the configured socket transport.
// Retries with exponential backoff on connection failure, since the helper
// may still be booting.
func Dial(ctx context.Context, cfg Config) (net.Conn, error) {
	var dial dialer
	switch cfg.Transport {
	case TransportUnix:
		dial = func(ctx context.Context) (*helperConn, error) { return dialUnix(ctx, cfg.Address) }
	case TransportVsock:
		dial = func(context.Context) (*helperConn, error) { return dialVsock(cfg.CID, cfg.Port) }
	case TransportVsockUDS:
		dial = func(ctx context.Context) (*helperConn, error) { return dialVsockUDS(ctx, cfg.Address, cfg.Port) }
	default:
		return nil, fmt.Errorf("transport %q cannot be dialed", cfg.Transport)
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	return dialWithRetry(ctx, dial)
}

func dialWithRetry(ctx context.Context, dial dialer) (net.Conn, error) {
	var lastErr error
	backoff := dialBaseBackoff

	for attempt := range dialMaxRetries {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial helper: %w", ctx.Err())
		default:
		}

		hc, err := dial(ctx)
		if err != nil {
			lastErr = err
			if attempt < dialMaxRetries-1 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, fmt.Errorf("dial helper: %w", ctx.Err())
				}
				backoff *= 2
			}
			continue
		}
		return hc, nil
	}

	return nil, fmt.Errorf("dial helper after %d attempts: %w", dialMaxRetries, lastErr)
}

func dialUnix(ctx context.Context, path string) (*helperConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", path, err)
	}
	return &helperConn{Conn: conn, reader: conn}, nil
}

func dialVsock(cid, port uint32) (*helperConn, error) {
	conn, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to vsock %d:%d: %w", cid, port, err)
	}
	return &helperConn{Conn: conn, reader: conn}, nil
}

// dialVsockUDS connects to Firecracker's UDS and sends the CONNECT handshake.
// Firecracker bridges the UDS connection to the guest's vsock listener.
// Protocol: send "CONNECT <port>\n", receive "OK <host_port>\n".
func dialVsockUDS(ctx context.Context, udsPath string, port uint32) (*helperConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", udsPath)
	if err != nil {
		return nil, fmt.Errorf("connect to UDS %s: %w", udsPath, err)
	}

	if _, err := fmt.Fprintf(conn, "CONNECT %d\n", port); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	// Keep the buffered reader for all subsequent reads so bytes it read
	// ahead are not lost.
	reader := bufio.NewReader(conn)
	response, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}

	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, "OK ") {
		conn.Close()
		return nil, fmt.Errorf("vsock CONNECT failed: %s", response)
	}

	return &helperConn{Conn: conn, reader: reader}, nil
}
