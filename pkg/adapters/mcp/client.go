package mcp

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/canopy"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Client is the subset of an MCP client session the adapter uses.
// *client.Client satisfies it.
type Client interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens an initialised client session to a server.
type Dialer func(ctx context.Context, cfg ServerConfig) (Client, error)

// Dial connects to cfg over its transport and performs the MCP handshake.
func Dial(ctx context.Context, cfg ServerConfig) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		c   *client.Client
		err error
	)
	switch cfg.TransportKind() {
	case TransportSSE:
		c, err = client.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.Headers))
		if err == nil {
			err = c.Start(ctx)
		}
	default:
		c, err = client.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
	}
	if err != nil {
		if c != nil {
			_ = c.Close()
		}
		return nil, fmt.Errorf("mcp server %q: connect: %w", cfg.Name, err)
	}

	if err := Initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp server %q: %w", cfg.Name, err)
	}
	return c, nil
}

// Initialize performs the MCP handshake on a started client.
func Initialize(ctx context.Context, c *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "canopy", Version: canopy.Version}
	if _, err := c.Initialize(ctx, req); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// listTools opens a session, lists the server's tools and closes it.
func listTools(ctx context.Context, dial Dialer, cfg ServerConfig) ([]mcp.Tool, error) {
	c, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: list tools: %w", cfg.Name, err)
	}
	return res.Tools, nil
}

// callTool opens a session, calls one tool and closes it.
func callTool(ctx context.Context, dial Dialer, cfg ServerConfig, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: call %s: %w", cfg.Name, name, err)
	}
	return res, nil
}
