package mcp_test

import (
	"os"
	"path/filepath"
	"testing"

	canopymcp "github.com/aretw0/canopy/pkg/adapters/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig_Transport(t *testing.T) {
	tests := []struct {
		name      string
		cfg       canopymcp.ServerConfig
		transport string
		valid     bool
	}{
		{"stdio explicit", canopymcp.ServerConfig{Name: "a", Transport: "stdio", Command: "srv"}, "stdio", true},
		{"stdio missing command", canopymcp.ServerConfig{Name: "a", Transport: "stdio"}, "stdio", false},
		{"sse inferred from url", canopymcp.ServerConfig{Name: "a", URL: "http://x/sse"}, "sse", true},
		{"sse missing url", canopymcp.ServerConfig{Name: "a", Transport: "SSE"}, "sse", false},
		{"unknown transport", canopymcp.ServerConfig{Name: "a", Transport: "ws", URL: "x"}, "ws", false},
		{"missing name", canopymcp.ServerConfig{Command: "srv"}, "stdio", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transport, tt.cfg.TransportKind())
			if tt.valid {
				assert.NoError(t, tt.cfg.Validate())
				assert.True(t, tt.cfg.HasTarget())
			} else {
				assert.Error(t, tt.cfg.Validate())
			}
		})
	}
}

func TestLoadServers(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "mcp.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"servers": [
			{"name": "weather", "enabled": true, "url": "http://localhost:9000/sse", "headers": {"Authorization": "Bearer x"}},
			{"name": "files", "enabled": false, "command": "files-mcp"}
		]
	}`), 0o644))

	servers, err := canopymcp.LoadServers(jsonPath)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "sse", servers[0].TransportKind())
	assert.Equal(t, "Bearer x", servers[0].Headers["Authorization"])
	assert.False(t, servers[1].Enabled)

	yamlPath := filepath.Join(dir, "mcp.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("servers:\n  - name: git\n    enabled: true\n    command: git-mcp\n    args: [--repo, .]\n"), 0o644))
	servers, err = canopymcp.LoadServers(yamlPath)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"--repo", "."}, servers[0].Args)

	servers, err = canopymcp.LoadServers(filepath.Join(dir, "none.json"))
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "mcp_my_server", canopymcp.AgentName("my-server"))
	assert.Equal(t, "mcp_my_server_get_weather", canopymcp.ToolName("my server", "get-weather"))
}
