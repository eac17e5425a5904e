package mcp_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	canopymcp "github.com/aretw0/canopy/pkg/adapters/mcp"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
)

// fakeServer is a small MCP server with three tools: add, shout and fail.
func fakeServer() *server.MCPServer {
	srv := server.NewMCPServer("fake", "1.0.0", server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("first")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("second")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sum := req.GetFloat("a", 0) + req.GetFloat("b", 0)
		data, _ := json.Marshal(map[string]any{"sum": sum})
		return mcp.NewToolResultText(string(data)), nil
	})

	srv.AddTool(mcp.NewTool("shout",
		mcp.WithDescription("Upper-case a text"),
		mcp.WithString("text", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(strings.ToUpper(req.GetString("text", ""))), nil
	})

	srv.AddTool(mcp.NewTool("fail",
		mcp.WithDescription("Always fails"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("out of cheese"), nil
	})

	return srv
}

// inProcess dials srv without a transport.
func inProcess(srv *server.MCPServer) canopymcp.Dialer {
	return func(ctx context.Context, cfg canopymcp.ServerConfig) (canopymcp.Client, error) {
		c, err := client.NewInProcessClient(srv)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		if err := canopymcp.Initialize(ctx, c); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}
}

var fakeConfig = canopymcp.ServerConfig{
	Name:      "fake",
	Enabled:   true,
	Transport: canopymcp.TransportStdio,
	Command:   "fake-server",
}

// drain executes c and collects its events and step errors.
func drain(t *testing.T, c ports.Capability, inputs map[string]any) ([]domain.Event, []error) {
	t.Helper()
	var events []domain.Event
	var errs []error
	for ev, err := range c.Execute(context.Background(), nil, inputs, ports.Handles{}) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errs
}

func mustNew(t *testing.T, spec ports.Spec) ports.Capability {
	t.Helper()
	c, err := spec.New(nil)
	require.NoError(t, err)
	return c
}
