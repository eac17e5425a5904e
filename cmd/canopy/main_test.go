package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTree = `
name: cli-test
nodes:
  - id: base
    root: true
    instruction: Choose a tool
    tools:
      - name: echo
      - name: text_response
`

func writeTree(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canopy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "canopy version "+canopy.Version+"\n", out)
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "", "validate", "--config", writeTree(t, testTree))
	require.NoError(t, err)
	assert.Contains(t, out, `tree "cli-test" is valid: 1 node(s), 2 tool(s), root "base"`)

	out, err = execute(t, "", "validate", "--config", writeTree(t, "nodes:\n  - id: base\n    root: true\n    tools:\n      - name: teleport\n"))
	require.Error(t, err)
	assert.Contains(t, out, "teleport")
}

func TestTools(t *testing.T) {
	out, err := execute(t, "", "tools", "--config", writeTree(t, testTree))
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "terminal")

	out, err = execute(t, "", "tools", "--config", writeTree(t, testTree), "--catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "retrieval:")
}

func TestGraph(t *testing.T) {
	out, err := execute(t, "", "graph", "--config", writeTree(t, testTree))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, `base__text_response(["text_response"])`)
}

func TestRun_JSON(t *testing.T) {
	out, err := execute(t, "", "run", "--config", writeTree(t, testTree), "--json", "hello")
	require.NoError(t, err)

	var events []domain.Event
	var final domain.RunState
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.Contains(line, []byte(`"current_node_id"`)) {
			require.NoError(t, json.Unmarshal(line, &final))
			continue
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal(line, &ev))
		events = append(events, ev)
	}

	assert.NotEmpty(t, events)
	assert.Equal(t, domain.StatusTerminated, final.Status)
	assert.Equal(t, []string{"echo", "text_response"}, final.ToolSequence())
}

func TestRun_Stdin(t *testing.T) {
	out, err := execute(t, "what is canopy?\n", "run", "--config", writeTree(t, testTree))
	require.NoError(t, err)
	assert.Contains(t, out, "You asked: what is canopy?")
	assert.Contains(t, out, "[terminated]")
}

func TestRun_Preset(t *testing.T) {
	t.Chdir(t.TempDir())
	out, err := execute(t, "", "run", "--preset", "empty", "hello")
	require.Error(t, err)
	assert.Contains(t, out, "[failed]")
}

func TestRun_Script(t *testing.T) {
	out, err := execute(t, "", "run", "--config", writeTree(t, testTree), "--script", "text_response", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "[terminated] 1 step(s): text_response")
}
