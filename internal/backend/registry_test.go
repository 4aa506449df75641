package backend_test

import (
	"context"
	"testing"

	"github.com/FLClab/TiffWrapper/internal/backend"
)

// stubBackend is a minimal Backend for registry tests.
type stubBackend struct {
	name string
}

func (s *stubBackend) Init(_ context.Context, _ backend.InitOptions) error { return nil }

func (s *stubBackend) Open(_ context.Context, _ string) (backend.Dataset, error) {
	return nil, nil
}

func (s *stubBackend) Shutdown(_ context.Context) error { return nil }

func (s *stubBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: s.name}
}

// Compile-time check that stubBackend satisfies the Backend interface.
var _ backend.Backend = (*stubBackend)(nil)

func stubFactory(name string) backend.Factory {
	return func() (backend.Backend, error) {
		return &stubBackend{name: name}, nil
	}
}

func TestRegistryRegisterAndNames(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register("wasm", stubFactory("wasm"))
	reg.Register("helper", stubFactory("helper"))

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("Names() returned %d backends, want 2", len(names))
	}
	if names[0] != "helper" || names[1] != "wasm" {
		t.Errorf("Names() = %v, want [helper wasm]", names)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register("helper", stubFactory("helper"))

	f, err := reg.Resolve("helper")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := f()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if b.Capabilities().Name != "helper" {
		t.Errorf("resolved backend name = %q, want %q", b.Capabilities().Name, "helper")
	}
}

func TestRegistryResolveNotRegistered(t *testing.T) {
	reg := backend.NewRegistry()

	if _, err := reg.Resolve("jvm"); err == nil {
		t.Error("expected error for unregistered backend, got nil")
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register("helper", stubFactory("first"))
	reg.Register("helper", stubFactory("second"))

	f, err := reg.Resolve("helper")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, _ := f()
	if b.Capabilities().Name != "second" {
		t.Errorf("name = %q, want second", b.Capabilities().Name)
	}
}

func TestSeriesMetadataMerge(t *testing.T) {
	m := backend.SeriesMetadata{
		Image:  map[string]any{"Name": "STED 640", "AcquisitionDate": "2024-01-12"},
		Pixels: map[string]any{"SizeX": 64, "Name": "pixels"},
	}

	merged := m.Merge()
	if len(merged) != 3 {
		t.Fatalf("len(merged) = %d, want 3", len(merged))
	}
	if merged["Name"] != "pixels" {
		t.Errorf("Name = %v, want pixel value to win", merged["Name"])
	}
	if merged["SizeX"] != 64 {
		t.Errorf("SizeX = %v, want 64", merged["SizeX"])
	}
}

func TestNormalizeLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"warn", "WARN"},
		{" error ", "ERROR"},
		{"OFF", "OFF"},
		{"trace", "TRACE"},
		{"", backend.DefaultLogLevel},
		{"verbose", backend.DefaultLogLevel},
	}
	for _, tt := range tests {
		if got := backend.NormalizeLogLevel(tt.in); got != tt.want {
			t.Errorf("NormalizeLogLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
