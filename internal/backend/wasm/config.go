package wasm

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names for wasm configuration.
const (
	envModule           = "MSRBRIDGE_WASM_MODULE"
	envMemoryLimitPages = "MSRBRIDGE_WASM_MEMORY_LIMIT_PAGES"
	envCacheDir         = "MSRBRIDGE_WASM_CACHE_DIR"
	envMounts           = "MSRBRIDGE_WASM_MOUNTS"
)

// Config holds configuration for the in-process wasm backend.
type Config struct {
	// ModulePath is the reader module. When empty, the first resource path
	// ending in .wasm is used.
	ModulePath string `yaml:"module"`

	// MemoryLimitPages caps guest memory in 64 KiB pages. 0 keeps the
	// wazero default.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// CacheDir, when set, persists compiled modules across processes.
	CacheDir string `yaml:"cache_dir"`

	// Mounts are host directories exposed read-only to the guest at the
	// same path, so host file paths resolve unchanged.
	Mounts []string `yaml:"mounts"`
}

// DefaultConfig mounts the whole host filesystem read-only.
func DefaultConfig() Config {
	return Config{Mounts: []string{"/"}}
}

// LoadConfig returns DefaultConfig with environment overrides applied.
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from MSRBRIDGE_WASM_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(envModule); v != "" {
		c.ModulePath = v
	}
	if v := os.Getenv(envMemoryLimitPages); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.MemoryLimitPages = uint32(n)
		}
	}
	if v := os.Getenv(envCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(envMounts); v != "" {
		c.Mounts = strings.Split(v, string(os.PathListSeparator))
	}
}
