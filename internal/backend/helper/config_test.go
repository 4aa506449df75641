package helper

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, env := range []string{
		envTransport, envCommand, envArgs, envAddress,
		envCID, envPort, envDialTimeout,
	} {
		t.Setenv(env, "")
	}

	cfg := LoadConfig()

	if cfg.Transport != TransportExec {
		t.Errorf("Transport = %q, want %q", cfg.Transport, TransportExec)
	}
	if cfg.Command != DefaultCommand {
		t.Errorf("Command = %q, want %q", cfg.Command, DefaultCommand)
	}
	if strings.Join(cfg.Args, " ") != "--listen stdio" {
		t.Errorf("Args = %v, want [--listen stdio]", cfg.Args)
	}
	if cfg.Port != DefaultVsockPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultVsockPort)
	}
	if cfg.CID != MinCID {
		t.Errorf("CID = %d, want %d", cfg.CID, MinCID)
	}
	if cfg.DialTimeout != 30*time.Second {
		t.Errorf("DialTimeout = %v, want 30s", cfg.DialTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv(envTransport, "VSOCK-UDS")
	t.Setenv(envCommand, "/opt/bftools/helper")
	t.Setenv(envArgs, "-jar  reader.jar")
	t.Setenv(envAddress, "/run/vm/vsock.sock")
	t.Setenv(envCID, "7")
	t.Setenv(envPort, "2048")
	t.Setenv(envDialTimeout, "5s")

	cfg := LoadConfig()

	if cfg.Transport != TransportVsockUDS {
		t.Errorf("Transport = %q, want %q", cfg.Transport, TransportVsockUDS)
	}
	if cfg.Command != "/opt/bftools/helper" {
		t.Errorf("Command = %q, want /opt/bftools/helper", cfg.Command)
	}
	if len(cfg.Args) != 2 || cfg.Args[0] != "-jar" || cfg.Args[1] != "reader.jar" {
		t.Errorf("Args = %v, want [-jar reader.jar]", cfg.Args)
	}
	if cfg.Address != "/run/vm/vsock.sock" {
		t.Errorf("Address = %q, want /run/vm/vsock.sock", cfg.Address)
	}
	if cfg.CID != 7 {
		t.Errorf("CID = %d, want 7", cfg.CID)
	}
	if cfg.Port != 2048 {
		t.Errorf("Port = %d, want 2048", cfg.Port)
	}
	if cfg.DialTimeout != 5*time.Second {
		t.Errorf("DialTimeout = %v, want 5s", cfg.DialTimeout)
	}
}

func TestLoadConfigInvalidNumbers(t *testing.T) {
	t.Setenv(envPort, "not-a-number")
	t.Setenv(envCID, "-1")
	t.Setenv(envDialTimeout, "soon")

	cfg := LoadConfig()
	if cfg.Port != DefaultVsockPort {
		t.Errorf("Port = %d, want default %d for invalid input", cfg.Port, DefaultVsockPort)
	}
	if cfg.CID != MinCID {
		t.Errorf("CID = %d, want default %d for invalid input", cfg.CID, MinCID)
	}
	if cfg.DialTimeout != 30*time.Second {
		t.Errorf("DialTimeout = %v, want default for invalid input", cfg.DialTimeout)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"exec default", func(*Config) {}, ""},
		{"exec without command", func(c *Config) { c.Command = "" }, "requires a command"},
		{"unix", func(c *Config) { c.Transport = TransportUnix; c.Address = "/tmp/a.sock" }, ""},
		{"unix without address", func(c *Config) { c.Transport = TransportUnix }, "requires an address"},
		{"vsock", func(c *Config) { c.Transport = TransportVsock; c.CID = 5 }, ""},
		{"vsock reserved cid", func(c *Config) { c.Transport = TransportVsock; c.CID = 2 }, "reserved"},
		{"vsock without port", func(c *Config) { c.Transport = TransportVsock; c.Port = 0 }, "requires a port"},
		{"vsock-uds without address", func(c *Config) { c.Transport = TransportVsockUDS }, "requires an address"},
		{"unknown", func(c *Config) { c.Transport = "carrier-pigeon" }, "unknown helper transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewFactoryRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = "smoke-signals"
	if _, err := NewFactory(cfg, nil)(); err == nil {
		t.Fatal("expected error for invalid config")
	}
}
