package helper

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Environment variable names for helper configuration.
const (
	envTransport   = "MSRBRIDGE_HELPER_TRANSPORT"
	envCommand     = "MSRBRIDGE_HELPER_COMMAND"
	envArgs        = "MSRBRIDGE_HELPER_ARGS"
	envAddress     = "MSRBRIDGE_HELPER_ADDRESS"
	envCID         = "MSRBRIDGE_HELPER_CID"
	envPort        = "MSRBRIDGE_HELPER_PORT"
	envDialTimeout = "MSRBRIDGE_HELPER_DIAL_TIMEOUT"
)

// Config holds configuration for the helper-process backend.
type Config struct {
	// Transport is one of Transports.
	Transport string `yaml:"transport"`

	// Command and Args start the helper (exec transport).
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Env is appended to the inherited environment of the spawned helper.
	Env []string `yaml:"env"`

	// Address is the Unix socket path (unix) or the Firecracker vsock UDS
	// path (vsock-uds).
	Address string `yaml:"address"`

	// CID is the vsock context ID of the helper's VM (vsock).
	CID uint32 `yaml:"cid"`

	// Port is the helper's vsock port (vsock, vsock-uds).
	Port uint32 `yaml:"port"`

	// DialTimeout bounds connection establishment including retries.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DefaultConfig returns a configuration that spawns msr-agent over stdio.
func DefaultConfig() Config {
	return Config{
		Transport:   TransportExec,
		Command:     DefaultCommand,
		Args:        slices.Clone(DefaultArgs),
		CID:         MinCID,
		Port:        DefaultVsockPort,
		DialTimeout: 30 * time.Second,
	}
}

// LoadConfig returns DefaultConfig with environment overrides applied.
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from MSRBRIDGE_HELPER_* environment variables.
// Unparseable numeric values are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(envTransport); v != "" {
		c.Transport = strings.ToLower(v)
	}
	if v := os.Getenv(envCommand); v != "" {
		c.Command = v
	}
	if v := os.Getenv(envArgs); v != "" {
		c.Args = strings.Fields(v)
	}
	if v := os.Getenv(envAddress); v != "" {
		c.Address = v
	}
	if v := os.Getenv(envCID); v != "" {
		if cid, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.CID = uint32(cid)
		}
	}
	if v := os.Getenv(envPort); v != "" {
		if port, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.Port = uint32(port)
		}
	}
	if v := os.Getenv(envDialTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.DialTimeout = d
		}
	}
}

// Validate checks that the fields the selected transport needs are set.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportExec:
		if c.Command == "" {
			return fmt.Errorf("helper transport %q requires a command", c.Transport)
		}
	case TransportUnix, TransportVsockUDS:
		if c.Address == "" {
			return fmt.Errorf("helper transport %q requires an address", c.Transport)
		}
	case TransportVsock:
		if c.CID < MinCID {
			return fmt.Errorf("helper vsock CID %d is reserved (minimum %d)", c.CID, MinCID)
		}
	default:
		return fmt.Errorf("unknown helper transport %q: must be one of %v", c.Transport, Transports)
	}
	if (c.Transport == TransportVsock || c.Transport == TransportVsockUDS) && c.Port == 0 {
		return fmt.Errorf("helper transport %q requires a port", c.Transport)
	}
	return nil
}
