package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	output *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds and runs the msrbridge binary")
	}
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "msrbridge-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "msrbridge")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/msrbridge")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// testEnv is the environment for msrbridge: an isolated journal and a wasm
// module path that does not exist, so the runtime never starts.
func testEnv(t *testing.T, extra ...string) []string {
	t.Helper()
	dir := t.TempDir()
	env := append(os.Environ(),
		"MSRBRIDGE_CONFIG=",
		"MSRBRIDGE_DB_PATH="+filepath.Join(dir, "calls.db"),
		"MSRBRIDGE_LOG_LEVEL=info",
		"MSRBRIDGE_BACKEND=wasm",
		"MSRBRIDGE_WASM_MODULE="+filepath.Join(dir, "absent.wasm"),
	)
	return append(env, extra...)
}

func startServer(t *testing.T, binary string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	output := &lockedBuffer{}
	cmd := exec.Command(binary, "serve")
	cmd.Env = testEnv(t, "MSRBRIDGE_LISTEN_ADDR="+addr)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		output: output,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\noutput:\n%s", startupTimeout, output.String())
	return nil
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, into any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestServe_Healthz(t *testing.T) {
	sp := startServer(t, getBinary(t))

	var body map[string]string
	if code := getJSON(t, sp.url+"/healthz", &body); code != 200 {
		t.Errorf("status = %d, want 200", code)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestServe_Metrics(t *testing.T) {
	sp := startServer(t, getBinary(t))

	// One request so the HTTP series exist.
	getJSON(t, sp.url+"/healthz", nil)

	resp, err := http.Get(sp.url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	for _, name := range []string{
		"msrbridge_http_requests_total",
		"msrbridge_http_request_duration_seconds",
		"msrbridge_bridge_runtime_up",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestServe_Backends(t *testing.T) {
	sp := startServer(t, getBinary(t))

	var backends []struct {
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}
	getJSON(t, sp.url+"/v1/backends", &backends)

	names := make(map[string]bool)
	for _, b := range backends {
		names[b.Name] = b.Active
	}
	if _, ok := names["helper"]; !ok {
		t.Errorf("helper backend not listed: %+v", backends)
	}
	if _, ok := names["wasm"]; !ok {
		t.Errorf("wasm backend not listed: %+v", backends)
	}
}

func TestServe_RuntimeStartsLazily(t *testing.T) {
	sp := startServer(t, getBinary(t))

	var status map[string]any
	getJSON(t, sp.url+"/v1/runtime", &status)
	if status["state"] != "uninitialized" {
		t.Errorf("state = %v, want uninitialized", status["state"])
	}
}

func TestServe_StartupFailureIsSticky(t *testing.T) {
	sp := startServer(t, getBinary(t))

	for i := range 2 {
		var body map[string]any
		code := postJSON(t, sp.url+"/v1/read", `{"path":"/data/sample.msr"}`, &body)
		if code != http.StatusServiceUnavailable {
			t.Fatalf("read %d: status = %d, want 503 (%v)", i, code, body)
		}
		if body["kind"] != "startup" {
			t.Errorf("read %d: kind = %v, want startup", i, body["kind"])
		}
	}

	var status map[string]any
	getJSON(t, sp.url+"/v1/runtime", &status)
	if status["state"] != "failed" {
		t.Errorf("state = %v, want failed", status["state"])
	}
}

func TestServe_BadRequest(t *testing.T) {
	sp := startServer(t, getBinary(t))

	if code := postJSON(t, sp.url+"/v1/read", `{"path":""}`, nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestServe_StructuredJSONLogs(t *testing.T) {
	sp := startServer(t, getBinary(t))
	getJSON(t, sp.url+"/healthz", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(sp.output.String(), `"msg":"request"`) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	scanner := bufio.NewScanner(strings.NewReader(sp.output.String()))
	found := false
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["msg"] == "request" {
			found = true
			for _, key := range []string{"method", "path", "status", "duration_ms"} {
				if _, ok := entry[key]; !ok {
					t.Errorf("request log missing field %q", key)
				}
			}
		}
	}
	if !found {
		t.Errorf("no structured request log found\noutput:\n%s", sp.output.String())
	}
}

// runCLI runs a one-shot msrbridge command and returns its exit code and
// combined output.
func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	cmd := exec.Command(getBinary(t), args...)
	cmd.Env = testEnv(t)
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, string(out)
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), string(out)
	default:
		t.Fatalf("run msrbridge: %v", err)
		return 0, ""
	}
}

func TestCLI_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{name: "backends", args: []string{"backends"}, code: 0, want: "* wasm"},
		{name: "missing argument", args: []string{"read"}, code: 2, want: "accepts 1 arg"},
		{name: "bad format", args: []string{"--format", "xml", "backends"}, code: 2, want: "invalid format"},
		{name: "runtime unavailable", args: []string{"read", "/data/sample.msr"}, code: 1, want: "E101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := runCLI(t, tt.args...)
			if code != tt.code {
				t.Errorf("exit code = %d, want %d\noutput:\n%s", code, tt.code, out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}
