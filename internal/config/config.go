package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/backend/helper"
	"github.com/FLClab/TiffWrapper/internal/backend/wasm"
)

const (
	defaultListenAddr  = ":8080"
	defaultDBPath      = "msrbridge.db"
	defaultBackend     = wasm.BackendName
	defaultCallTimeout = 10 * time.Minute

	// EnvConfig names the YAML file read when no path is passed to Load.
	EnvConfig = "MSRBRIDGE_CONFIG"

	envListenAddr      = "MSRBRIDGE_LISTEN_ADDR"
	envDBPath          = "MSRBRIDGE_DB_PATH"
	envLogLevel        = "MSRBRIDGE_LOG_LEVEL"
	envBackend         = "MSRBRIDGE_BACKEND"
	envRuntimeLogLevel = "MSRBRIDGE_RUNTIME_LOG_LEVEL"
	envResourcePaths   = "MSRBRIDGE_RESOURCE_PATHS"
	envCallTimeout     = "MSRBRIDGE_CALL_TIMEOUT"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string     `yaml:"listen_addr"`
	DBPath     string     `yaml:"db_path"`
	LogLevel   slog.Level `yaml:"-"`

	// Backend names the registered runtime backend.
	Backend string `yaml:"backend"`

	// RuntimeLogLevel is the embedded runtime's own verbosity, independent
	// of LogLevel.
	RuntimeLogLevel string `yaml:"runtime_log_level"`

	// ResourcePaths are handed to the runtime at startup.
	ResourcePaths []string `yaml:"resource_paths"`

	// CallTimeout bounds every bridge call. Zero disables the bound.
	CallTimeout time.Duration `yaml:"call_timeout"`

	Helper helper.Config `yaml:"helper"`
	Wasm   wasm.Config   `yaml:"wasm"`
}

// fileConfig is the YAML shape; log_level is parsed separately.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		Backend:         defaultBackend,
		RuntimeLogLevel: backend.DefaultLogLevel,
		CallTimeout:     defaultCallTimeout,
		Helper:          helper.DefaultConfig(),
		Wasm:            wasm.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $MSRBRIDGE_CONFIG when path is empty), then MSRBRIDGE_* environment
// variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	cfg.RuntimeLogLevel = strings.ToUpper(strings.TrimSpace(cfg.RuntimeLogLevel))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc := fileConfig{Config: *c}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	*c = fc.Config
	if fc.LogLevel != "" {
		c.LogLevel = ParseLogLevel(fc.LogLevel)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv(envBackend); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(envRuntimeLogLevel); v != "" {
		c.RuntimeLogLevel = v
	}
	if v := os.Getenv(envResourcePaths); v != "" {
		c.ResourcePaths = strings.Split(v, string(os.PathListSeparator))
	}
	if v := os.Getenv(envCallTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CallTimeout = d
		}
	}
	c.Helper.ApplyEnv()
	c.Wasm.ApplyEnv()
}

// Validate checks the settings that do not depend on a backend.
func (c Config) Validate() error {
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative, got %s", c.CallTimeout)
	}
	if !slices.Contains(backend.LogLevels, c.RuntimeLogLevel) {
		return fmt.Errorf("runtime_log_level %q: must be one of %v", c.RuntimeLogLevel, backend.LogLevels)
	}
	if c.Backend == "" {
		return errors.New("backend must be set")
	}
	return nil
}

// InitOptions returns the runtime startup options.
func (c Config) InitOptions() backend.InitOptions {
	return backend.InitOptions{
		ResourcePaths: slices.Clone(c.ResourcePaths),
		LogLevel:      c.RuntimeLogLevel,
	}
}

// ParseLogLevel maps debug, info, warn and error to slog levels; anything
// else is info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a human-readable logger for interactive use.
func NewTextLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
