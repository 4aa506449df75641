package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/model"
)

func TestReadCommand_Text(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, _ := env.run("read", twoChannelPath)
	require.Equal(t, ExitSuccess, code)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"SERIES", "DTYPE", "SHAPE"}, strings.Fields(lines[0]))
	assert.Contains(t, lines[1], "Confocal 561")
	assert.Contains(t, lines[1], "(2, 64, 64)")
	assert.Contains(t, lines[2], "STED 640")
	assert.Contains(t, lines[2], "uint16")
}

func TestReadCommand_JSON(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, _ := env.run("--format", "json", "read", twoChannelPath)
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Status string            `json:"status"`
		Data   model.ImageBundle `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)

	arr := resp.Data["STED 640"]
	assert.Equal(t, []int{2, 64, 64}, arr.Shape)
	assert.Len(t, arr.Data, 2*64*64*2)
}

func TestReadCommand_Summary(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, _ := env.run("--format", "json", "read", "--summary", twoChannelPath)
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Data model.ImageBundle `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	for name, arr := range resp.Data {
		assert.Nil(t, arr.Data, "series %s carries data", name)
		assert.NotEmpty(t, arr.Shape)
	}
}

func TestReadCommand_MissingFile(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, stderr := env.run("read", "/data/absent.msr")
	assert.Equal(t, ExitFailure, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, ErrCodeRead)
	assert.Contains(t, stderr, "absent.msr")
}

func TestReadCommand_MissingFileJSON(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, _ := env.run("--format", "json", "read", "/data/absent.msr")
	assert.Equal(t, ExitFailure, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRead, resp.Error.Code)
}

func TestReadCommand_StopsRuntime(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run("read", twoChannelPath)
	require.Equal(t, ExitSuccess, code)

	h := bridge.Default()
	require.NotNil(t, h)
	assert.Equal(t, bridge.StateStopped, h.State())
	assert.Equal(t, 1, env.fake.Shutdowns())
}

func TestReadCommand_PassesRuntimeOptions(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("MSRBRIDGE_RUNTIME_LOG_LEVEL", "debug")

	code, _, _ := env.run("read", twoChannelPath)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "DEBUG", env.fake.InitOptions().LogLevel)
}

func TestMetadataCommand_Text(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, _ := env.run("metadata", twoChannelPath)
	require.Equal(t, ExitSuccess, code)

	assert.True(t, strings.HasPrefix(stdout, "[Confocal 561]\n"), stdout)
	assert.Contains(t, stdout, "\n[STED 640]\n")
	assert.Contains(t, stdout, "PhysicalSizeX = 0.02\n")
	assert.Contains(t, stdout, "AcquisitionDate = 2024-01-12T10:00:00\n")
}

func TestMetadataCommand_JSON(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, _ := env.run("--format", "json", "metadata", twoChannelPath)
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Data model.MetadataBundle `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Contains(t, resp.Data, "STED 640")
	assert.Equal(t, "STED 640", resp.Data["STED 640"]["Name"])
	assert.InDelta(t, 64, resp.Data["STED 640"]["SizeX"], 0)
}

func TestMetadataCommand_MissingFile(t *testing.T) {
	env := newCLIEnv(t)

	code, _, stderr := env.run("metadata", "/data/absent.msr")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, ErrCodeMetadata)
}

func TestFormatShape(t *testing.T) {
	assert.Equal(t, "(2, 64, 64)", formatShape([]int{2, 64, 64}))
	assert.Equal(t, "(8)", formatShape([]int{8}))
	assert.Equal(t, "()", formatShape(nil))
}
