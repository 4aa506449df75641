package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/backend/backendtest"
	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/config"
)

const twoChannelPath = "/data/two_channel.msr"

type cliEnv struct {
	fake   *backendtest.Fake
	config string
	dbPath string
}

// newCLIEnv writes a config selecting the fake backend and isolates the
// test from MSRBRIDGE_* variables in the environment.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	for _, name := range []string{
		config.EnvConfig, "MSRBRIDGE_LISTEN_ADDR", "MSRBRIDGE_DB_PATH", "MSRBRIDGE_LOG_LEVEL",
		"MSRBRIDGE_BACKEND", "MSRBRIDGE_RUNTIME_LOG_LEVEL", "MSRBRIDGE_RESOURCE_PATHS",
		"MSRBRIDGE_CALL_TIMEOUT",
	} {
		t.Setenv(name, "")
	}

	dir := t.TempDir()
	env := &cliEnv{
		fake:   backendtest.New(),
		config: filepath.Join(dir, "msrbridge.yaml"),
		dbPath: filepath.Join(dir, "calls.db"),
	}
	env.fake.AddFile(twoChannelPath, backendtest.TwoChannelFile())

	yaml := "backend: fake\ndb_path: " + env.dbPath + "\ncall_timeout: 5s\n"
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o644))

	prev := bridge.SetDefault(nil)
	t.Cleanup(func() { bridge.SetDefault(prev) })
	return env
}

func (e *cliEnv) registry(config.Config, *slog.Logger) *backend.Registry {
	reg := backend.NewRegistry()
	reg.Register("fake", e.fake.Factory())
	reg.Register("other", e.fake.Factory())
	return reg
}

// run executes the CLI with args and returns the exit code, stdout and
// stderr.
func (e *cliEnv) run(args ...string) (int, string, string) {
	return e.runContext(context.Background(), args...)
}

func (e *cliEnv) runContext(ctx context.Context, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(e.registry)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	code := Execute(ctx, cmd)
	return code, stdout.String(), stderr.String()
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand(nil)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"read", "metadata", "serve", "calls", "backends"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)

	for _, name := range []string{"verbose", "format", "config"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	env := newCLIEnv(t)

	code, _, stderr := env.run("--format", "yaml", "backends")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid format")
}

func TestRootCommand_MissingArgument(t *testing.T) {
	env := newCLIEnv(t)

	code, _, stderr := env.run("read")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "accepts 1 arg")
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	env := newCLIEnv(t)
	env.config = filepath.Join(t.TempDir(), "absent.yaml")

	code, _, stderr := env.run("backends")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, ErrCodeConfig)
}

func TestRootCommand_UnknownBackend(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("MSRBRIDGE_BACKEND", "missing")

	code, _, stderr := env.run("read", twoChannelPath)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, ErrCodeUnknownBackend)
	assert.Contains(t, stderr, `"missing"`)
}

func TestBackendsCommand(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, _ := env.run("backends")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "* fake\n  other\n", stdout)
}

func TestBackendsCommand_JSON(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, _ := env.run("--format", "json", "backends")
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Status string         `json:"status"`
		Data   []backendEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []backendEntry{{Name: "fake", Configured: true}, {Name: "other"}}, resp.Data)
}

func TestExecute_ExitErrorCode(t *testing.T) {
	env := newCLIEnv(t)
	env.fake.InitErr = errors.New("runtime library missing")

	code, _, stderr := env.run("read", twoChannelPath)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, ErrCodeStartup)
	assert.Contains(t, stderr, "runtime library missing")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitFailure, "read", errors.New("boom"))
	assert.Equal(t, "read: boom", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "boom")
}
