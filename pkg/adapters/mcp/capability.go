package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
)

// Agent actions.
const (
	ActionList    = "list"
	ActionExecute = "execute"
)

// Option configures the capabilities built by this package.
type Option func(*options)

type options struct {
	dial   Dialer
	logger *slog.Logger
}

// WithDialer replaces the transport used to reach servers.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dial = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{dial: Dial, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AgentName is the tool name of a server's gateway capability.
func AgentName(server string) string {
	return "mcp_" + safeName(server)
}

// ToolName is the tool name of one remote tool in individual mode.
func ToolName(server, tool string) string {
	return "mcp_" + safeName(server) + "_" + safeName(tool)
}

func safeName(s string) string {
	return strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(s)
}

// Agent is a gateway capability for a whole server: it lists the server's
// tools or executes one of them by name.
type Agent struct {
	cfg  ServerConfig
	opts options

	mu    sync.Mutex
	tools []mcp.Tool
}

// AgentSpec returns the Spec of the gateway capability for cfg.
func AgentSpec(cfg ServerConfig, opts ...Option) ports.Spec {
	o := newOptions(opts)
	desc := agentDescriptor(cfg)
	return ports.Spec{
		Descriptor: desc,
		New: func(kw ports.Config) (ports.Capability, error) {
			if err := ports.DecodeConfig(kw, &struct{}{}); err != nil {
				return nil, err
			}
			return &Agent{cfg: cfg, opts: o}, nil
		},
	}
}

func agentDescriptor(cfg ServerConfig) domain.CapabilityDescriptor {
	description := cfg.Description
	if description == "" {
		description = fmt.Sprintf("MCP server '%s' (%s): provides access to multiple tools via Model Context Protocol.", cfg.Name, cfg.TransportKind())
	}
	return domain.CapabilityDescriptor{
		Name:        AgentName(cfg.Name),
		Description: description,
		Inputs: map[string]domain.InputSpec{
			"action":      {Type: "string", Default: ActionList, Description: "'list' to show tools, 'execute' to run a specific tool."},
			"tool_name":   {Type: "string", Default: "", Description: "Name of the tool to execute (required when action is 'execute')."},
			"tool_inputs": {Type: "map", Default: map[string]any{}, Description: "Inputs for the tool (used when action is 'execute')."},
		},
		StatusTemplate: "Ready to connect to MCP server",
	}
}

func (a *Agent) Descriptor() domain.CapabilityDescriptor { return agentDescriptor(a.cfg) }

// Available reports whether the server has a transport target.
func (a *Agent) Available(context.Context, ports.RunView, ports.Handles) (bool, error) {
	return a.cfg.HasTarget(), nil
}

// remoteTools lists the server's tools once and caches them.
func (a *Agent) remoteTools(ctx context.Context) ([]mcp.Tool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tools != nil {
		return a.tools, nil
	}
	tools, err := listTools(ctx, a.opts.dial, a.cfg)
	if err != nil {
		return nil, err
	}
	a.opts.logger.Info("loaded tools from MCP server", "server", a.cfg.Name, "count", len(tools))
	a.tools = tools
	return tools, nil
}

func (a *Agent) Execute(ctx context.Context, _ ports.RunView, inputs map[string]any, _ ports.Handles) ports.Stream {
	return func(yield func(domain.Event, error) bool) {
		action, _ := inputs["action"].(string)
		if action == "" {
			action = ActionList
		}

		a.mu.Lock()
		initialised := a.tools != nil
		a.mu.Unlock()
		if !initialised {
			if !yield(domain.Status(fmt.Sprintf("Initializing MCP server '%s'...", a.cfg.Name)), nil) {
				return
			}
		}
		tools, err := a.remoteTools(ctx)
		if err != nil {
			yield(domain.Event{}, fmt.Errorf("failed to initialize MCP server '%s': %w", a.cfg.Name, err))
			return
		}

		switch action {
		case ActionList:
			objects := make([]map[string]any, 0, len(tools))
			lines := make([]string, 0, len(tools))
			for _, t := range tools {
				objects = append(objects, map[string]any{"name": t.Name, "description": t.Description})
				lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.Description))
			}
			if !yield(domain.ResultEvent(domain.Result{Name: a.cfg.Name + "_tools", Objects: objects}), nil) {
				return
			}
			yield(domain.Text(fmt.Sprintf("MCP Server '%s' has %d tools:\n%s", a.cfg.Name, len(tools), strings.Join(lines, "\n"))), nil)

		case ActionExecute:
			name, _ := inputs["tool_name"].(string)
			if name == "" {
				yield(domain.Event{}, errors.New("tool_name is required when action='execute'"))
				return
			}
			if !hasTool(tools, name) {
				names := make([]string, len(tools))
				for i, t := range tools {
					names[i] = t.Name
				}
				yield(domain.Event{}, fmt.Errorf("tool '%s' not found. Available: %v", name, names))
				return
			}
			args, _ := inputs["tool_inputs"].(map[string]any)
			if !yield(domain.Status(fmt.Sprintf("Executing '%s' on MCP server '%s'...", name, a.cfg.Name)), nil) {
				return
			}
			res, err := callTool(ctx, a.opts.dial, a.cfg, name, args)
			if err != nil {
				yield(domain.Event{}, fmt.Errorf("error executing '%s' on '%s': %w", name, a.cfg.Name, err))
				return
			}
			forward(yield, name, res)

		default:
			yield(domain.Event{}, fmt.Errorf("unknown action '%s'. Use 'list' or 'execute'", action))
		}
	}
}

func hasTool(tools []mcp.Tool, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Remote is one remote MCP tool exposed as its own capability.
type Remote struct {
	cfg    ServerConfig
	remote string
	desc   domain.CapabilityDescriptor
	opts   options
}

// RemoteSpec returns the Spec of one remote tool.
func RemoteSpec(cfg ServerConfig, tool mcp.Tool, opts ...Option) ports.Spec {
	o := newOptions(opts)
	description := tool.Description
	if description == "" {
		description = fmt.Sprintf("Tool '%s' from MCP server '%s'.", tool.Name, cfg.Name)
	}
	desc := domain.CapabilityDescriptor{
		Name:        ToolName(cfg.Name, tool.Name),
		Description: description,
		Inputs:      inputsFromSchema(tool.InputSchema),
	}
	return ports.Spec{
		Descriptor: desc,
		New: func(kw ports.Config) (ports.Capability, error) {
			if err := ports.DecodeConfig(kw, &struct{}{}); err != nil {
				return nil, err
			}
			return &Remote{cfg: cfg, remote: tool.Name, desc: desc.Clone(), opts: o}, nil
		},
	}
}

func (r *Remote) Descriptor() domain.CapabilityDescriptor { return r.desc }

// Available reports whether the server has a transport target.
func (r *Remote) Available(context.Context, ports.RunView, ports.Handles) (bool, error) {
	return r.cfg.HasTarget(), nil
}

func (r *Remote) Execute(ctx context.Context, _ ports.RunView, inputs map[string]any, _ ports.Handles) ports.Stream {
	return func(yield func(domain.Event, error) bool) {
		res, err := callTool(ctx, r.opts.dial, r.cfg, r.remote, inputs)
		if err != nil {
			yield(domain.Event{}, err)
			return
		}
		forward(yield, r.remote, res)
	}
}

// inputsFromSchema maps a JSON schema object to input specs.
func inputsFromSchema(schema mcp.ToolInputSchema) map[string]domain.InputSpec {
	if len(schema.Properties) == 0 {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	out := make(map[string]domain.InputSpec, len(schema.Properties))
	for name, raw := range schema.Properties {
		prop, _ := raw.(map[string]any)
		typ, _ := prop["type"].(string)
		description, _ := prop["description"].(string)
		out[name] = domain.InputSpec{
			Type:        jsonSchemaType(typ),
			Required:    required[name],
			Default:     prop["default"],
			Description: description,
		}
	}
	return out
}

func jsonSchemaType(t string) string {
	switch t {
	case "string":
		return "string"
	case "integer":
		return "int"
	case "number":
		return "float"
	case "boolean":
		return "bool"
	case "array":
		return "list"
	case "object":
		return "map"
	default:
		return "any"
	}
}

// forward converts a tool call result into events.
// Error results become a step failure; JSON text becomes Results.
func forward(yield func(domain.Event, error) bool, tool string, res *mcp.CallToolResult) {
	texts := textContents(res)
	if res.IsError {
		yield(domain.Event{}, fmt.Errorf("tool '%s' failed: %s", tool, strings.Join(texts, "\n")))
		return
	}

	if obj, ok := res.StructuredContent.(map[string]any); ok {
		if !yield(domain.ResultEvent(domain.Result{Name: tool, Objects: []map[string]any{obj}}), nil) {
			return
		}
	}

	for _, text := range texts {
		ev, ok := decodeResult(tool, text)
		if !ok {
			ev = domain.Text(text)
		}
		if !yield(ev, nil) {
			return
		}
	}
}

func textContents(res *mcp.CallToolResult) []string {
	var out []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			out = append(out, tc.Text)
		case *mcp.TextContent:
			out = append(out, tc.Text)
		}
	}
	return out
}

func decodeResult(tool, text string) (domain.Event, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return domain.Event{}, false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return domain.Event{}, false
	}

	var objects []map[string]any
	switch val := v.(type) {
	case map[string]any:
		objects = []map[string]any{val}
	case []any:
		for _, item := range val {
			if obj, ok := item.(map[string]any); ok {
				objects = append(objects, obj)
			} else {
				objects = append(objects, map[string]any{"value": item})
			}
		}
	}
	return domain.ResultEvent(domain.Result{Name: tool, Objects: objects}), true
}

// Specs builds the capabilities for every enabled server.
// In agent mode each server becomes one gateway; otherwise each remote tool
// becomes its own capability, which requires listing the server's tools now.
// Servers that cannot be reached are skipped with a warning.
func Specs(ctx context.Context, servers []ServerConfig, agentMode bool, opts ...Option) []ports.Spec {
	o := newOptions(opts)
	var specs []ports.Spec
	for _, cfg := range servers {
		if !cfg.Enabled {
			continue
		}
		if err := cfg.Validate(); err != nil {
			o.logger.Warn("skipping MCP server", "server", cfg.Name, "err", err)
			continue
		}
		if agentMode {
			specs = append(specs, AgentSpec(cfg, opts...))
			continue
		}

		tools, err := listTools(ctx, o.dial, cfg)
		if err != nil {
			o.logger.Warn("skipping MCP server", "server", cfg.Name, "err", err)
			continue
		}
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		for _, t := range tools {
			specs = append(specs, RemoteSpec(cfg, t, opts...))
		}
		o.logger.Info("discovered MCP tools", "server", cfg.Name, "count", len(tools))
	}
	return specs
}
