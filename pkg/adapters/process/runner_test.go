package process_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/canopy/pkg/adapters/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunner_Run(t *testing.T) {
	skipOnWindows(t)
	runner := process.NewRunner()
	runner.Register("hello", "echo", "hello")
	runner.Register("echo_env", "sh", "-c", "echo $CANOPY_ARG_MSG")
	runner.Register("json", "sh", "-c", `echo '{"count": 2}'`)
	runner.Register("fail", "sh", "-c", "echo broken >&2; exit 3")

	ctx := context.Background()

	t.Run("Executes Registered Command", func(t *testing.T) {
		out, err := runner.Run(ctx, "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("Rejects Unregistered Command", func(t *testing.T) {
		_, err := runner.Run(ctx, "hacker_script", nil)
		assert.ErrorContains(t, err, "not registered")
	})

	t.Run("Passes Inputs via Env Vars", func(t *testing.T) {
		out, err := runner.Run(ctx, "echo_env", map[string]any{"msg": "SecretMessage"})
		require.NoError(t, err)
		assert.Equal(t, "SecretMessage", out)
	})

	t.Run("Rejects Suspicious Input Names", func(t *testing.T) {
		_, err := runner.Run(ctx, "echo_env", map[string]any{"a;b": "x"})
		assert.Error(t, err)
	})

	t.Run("Decodes JSON Output", func(t *testing.T) {
		out, err := runner.Run(ctx, "json", nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"count": float64(2)}, out)
	})

	t.Run("Reports Stderr On Failure", func(t *testing.T) {
		_, err := runner.Run(ctx, "fail", nil)
		assert.ErrorContains(t, err, "broken")
	})
}

func TestRunner_Timeout(t *testing.T) {
	skipOnWindows(t)
	runner := process.NewRunner(process.WithRegistry(map[string]process.ProcessConfig{
		"slow": {Name: "slow", Command: "sleep", Args: []string{"5"}, Timeout: 100 * time.Millisecond},
	}))

	start := time.Now()
	_, err := runner.Run(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLoadTools(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
tools:
  - name: lint
    command: golangci-lint
    args: [run]
    end: true
    inputs:
      path: {type: string, required: true}
  - command: nameless
`), 0o644))

	tools, err := process.LoadTools(yamlPath)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "golangci-lint", tools["lint"].Command)
	assert.True(t, tools["lint"].Terminal)
	assert.True(t, tools["lint"].Inputs["path"].Required)

	jsonPath := filepath.Join(dir, "tools.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"tools":[{"name":"fmt","command":"gofmt"}]}`), 0o644))
	tools, err = process.LoadTools(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "gofmt", tools["fmt"].Command)

	tools, err = process.LoadTools(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, tools)
}
