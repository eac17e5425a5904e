package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/canopy"
	canopymcp "github.com/aretw0/canopy/pkg/adapters/mcp"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/aretw0/canopy/pkg/tools"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServedRouter(t *testing.T, opts ...canopymcp.ServerOption) *client.Client {
	t.Helper()
	r := canopy.New()
	_, err := r.AddNode(graph.NodeSpec{ID: "base", Root: true, Instruction: "Choose a tool"})
	require.NoError(t, err)
	_, err = r.AdmitTool(tools.TextResponseSpec(), nil, "base")
	require.NoError(t, err)

	srv := canopymcp.NewServer(r, opts...)
	c, err := client.NewInProcessClient(srv.MCPServer())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, canopymcp.Initialize(ctx, c))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func call(t *testing.T, c *client.Client, name string, args map[string]any) string {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestServer_ListToolsAndTree(t *testing.T) {
	c := newServedRouter(t)

	var descs []domain.CapabilityDescriptor
	require.NoError(t, json.Unmarshal([]byte(call(t, c, "list_tools", nil)), &descs))
	require.Len(t, descs, 1)
	assert.Equal(t, "text_response", descs[0].Name)

	var tree domain.Tree
	require.NoError(t, json.Unmarshal([]byte(call(t, c, "get_tree", nil)), &tree))
	assert.Equal(t, "base", tree.RootID)
	node, ok := tree.Node("base")
	require.True(t, ok)
	assert.Equal(t, []string{"text_response"}, node.ToolNames())
}

func TestServer_Run(t *testing.T) {
	c := newServedRouter(t)

	var resp canopymcp.RunResponse
	require.NoError(t, json.Unmarshal([]byte(call(t, c, "run", map[string]any{"request": "hello"})), &resp))
	assert.Equal(t, domain.StatusTerminated, resp.Status)
	assert.Equal(t, []string{"text_response"}, resp.Tools)
	assert.Equal(t, []string{"You asked: hello"}, resp.Text)
	assert.Empty(t, resp.Error)
}

func TestServer_RunPersistsConversation(t *testing.T) {
	store := memory.NewStore()
	c := newServedRouter(t, canopymcp.WithSessions(session.NewManager(store)))

	var resp canopymcp.RunResponse
	require.NoError(t, json.Unmarshal([]byte(call(t, c, "run", map[string]any{
		"request":         "hello",
		"conversation_id": "conv-9",
	})), &resp))

	saved, err := store.Load(context.Background(), "conv-9")
	require.NoError(t, err)
	assert.Equal(t, resp.RunID, saved.ID)
}

func TestServer_TreeResource(t *testing.T) {
	c := newServedRouter(t)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = canopymcp.TreeURI
	res, err := c.ReadResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	text, ok := mcp.AsTextResourceContents(res.Contents[0])
	require.True(t, ok)
	assert.Contains(t, text.Text, `"root_id":"base"`)
}

func TestServer_RunRejectsInvalidRequest(t *testing.T) {
	c := newServedRouter(t)

	req := mcp.CallToolRequest{}
	req.Params.Name = "run"
	req.Params.Arguments = map[string]any{"request": "   \t"}
	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
