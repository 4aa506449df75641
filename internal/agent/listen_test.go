package agent

import (
	"path/filepath"
	"testing"
)

func TestParseListenAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    ListenAddr
		wantErr bool
	}{
		{in: "stdio", want: ListenAddr{Kind: ListenStdio}},
		{in: "unix:/run/msr-agent.sock", want: ListenAddr{Kind: ListenUnix, Path: "/run/msr-agent.sock"}},
		{in: "vsock:1024", want: ListenAddr{Kind: ListenVsock, Port: 1024}},
		{in: "vsock:0", wantErr: true},
		{in: "vsock:port", wantErr: true},
		{in: "unix:", wantErr: true},
		{in: "tcp:8080", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseListenAddr(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseListenAddr(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseListenAddr(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseListenAddr(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestListenAddr_UnixListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")
	addr, err := ParseListenAddr("unix:" + path)
	if err != nil {
		t.Fatal(err)
	}

	l, err := addr.Listener()
	if err != nil {
		t.Fatalf("Listener: %v", err)
	}
	defer l.Close()

	if l.Addr().String() != path {
		t.Errorf("listening on %q, want %q", l.Addr().String(), path)
	}
}

func TestListenAddr_StdioHasNoListener(t *testing.T) {
	if _, err := (ListenAddr{Kind: ListenStdio}).Listener(); err == nil {
		t.Fatal("expected error for stdio listener")
	}
}
