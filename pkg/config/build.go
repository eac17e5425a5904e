package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/adapters/luarule"
	"github.com/aretw0/canopy/pkg/adapters/mcp"
	"github.com/aretw0/canopy/pkg/adapters/process"
	"github.com/aretw0/canopy/pkg/catalog"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/dsl"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/predictor"
	"github.com/aretw0/canopy/pkg/presets"
)

// BuildOption configures Build.
type BuildOption func(*builder)

type builder struct {
	logger     *slog.Logger
	catalog    *catalog.Catalog
	routerOpts []canopy.Option
	mcpOpts    []mcp.Option
}

// WithLogger sets the logger used while building and by the Router.
func WithLogger(l *slog.Logger) BuildOption {
	return func(b *builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithCatalog starts from c instead of catalog.Builtin. Configured tools are added to it.
func WithCatalog(c *catalog.Catalog) BuildOption {
	return func(b *builder) { b.catalog = c }
}

// WithRouterOptions appends Router options, applied after the file's engine settings.
func WithRouterOptions(opts ...canopy.Option) BuildOption {
	return func(b *builder) { b.routerOpts = append(b.routerOpts, opts...) }
}

// WithMCPOptions passes options to the MCP adapter, such as a custom dialer.
func WithMCPOptions(opts ...mcp.Option) BuildOption {
	return func(b *builder) { b.mcpOpts = append(b.mcpOpts, opts...) }
}

// Build registers the file's external tools in the catalog, creates a Router
// with its engine settings and builds the tree. Declared nodes are added
// parents first; without nodes the preset is applied and every external
// tool is attached to its root.
func Build(ctx context.Context, f *File, opts ...BuildOption) (*canopy.Router, *catalog.Catalog, error) {
	b := &builder{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	if b.catalog == nil {
		b.catalog = catalog.Builtin()
	}

	external, mcpTools, err := b.register(ctx, f)
	if err != nil {
		return nil, nil, err
	}

	r := canopy.New(append(f.routerOptions(b.logger), b.routerOpts...)...)

	if len(f.Nodes) == 0 {
		extra := append(external, mcpTools...)
		if err := presets.Apply(r, b.catalog, f.Preset, presets.WithLogger(b.logger), presets.WithExtraTools(extra...)); err != nil {
			return nil, nil, err
		}
		return r, b.catalog, nil
	}

	if err := f.tree(mcpTools).Apply(r, b.catalog); err != nil {
		return nil, nil, err
	}
	return r, b.catalog, nil
}

func (f *File) routerOptions(logger *slog.Logger) []canopy.Option {
	opts := []canopy.Option{canopy.WithLogger(logger)}
	if f.Name != "" {
		opts = append(opts, canopy.WithName(f.Name))
	}
	if f.Engine.MaxSteps > 0 {
		opts = append(opts, canopy.WithMaxSteps(f.Engine.MaxSteps))
	}
	if f.Engine.StepTimeout > 0 {
		opts = append(opts, canopy.WithStepTimeout(f.Engine.StepTimeout))
	}
	if f.Engine.PredictorTimeout > 0 {
		opts = append(opts, canopy.WithPredictorTimeout(f.Engine.PredictorTimeout))
	}
	if f.Engine.ReturnToRoot {
		opts = append(opts, canopy.WithReturnToRoot(true))
	}
	if f.Engine.Predictor == "keyword" {
		opts = append(opts, canopy.WithPredictor(predictor.Keyword{}))
	}
	return opts
}

// register adds process tools, Lua rules and MCP tools to the catalog.
// It returns the names of the process and Lua tools, then of the MCP tools.
func (b *builder) register(ctx context.Context, f *File) ([]string, []string, error) {
	var external, mcpTools []string

	if len(f.Process) > 0 {
		configs := make(map[string]process.ProcessConfig, len(f.Process))
		for _, p := range f.Process {
			configs[p.Name] = p
		}
		runner := process.NewRunner(process.WithRegistry(configs), process.WithBaseDir(f.BaseDir))
		for _, spec := range process.Specs(runner, configs) {
			if err := b.catalog.Register(spec, catalog.Other); err != nil {
				return nil, nil, err
			}
			external = append(external, spec.Descriptor.Name)
		}
	}

	for _, rc := range f.LuaRules {
		if rc.Script == "" && rc.File != "" && !filepath.IsAbs(rc.File) {
			rc.File = filepath.Join(f.BaseDir, rc.File)
		}
		spec, err := luarule.Spec(rc)
		if err != nil {
			return nil, nil, &domain.ConfigurationError{Tool: rc.Name, Err: err}
		}
		if err := b.catalog.Register(spec, catalog.Other); err != nil {
			return nil, nil, err
		}
		external = append(external, spec.Descriptor.Name)
	}

	if len(f.MCP.Servers) > 0 {
		mcpOpts := append([]mcp.Option{mcp.WithLogger(b.logger)}, b.mcpOpts...)
		for _, spec := range mcp.Specs(ctx, f.MCP.Servers, f.MCP.AsAgent, mcpOpts...) {
			if err := b.catalog.Register(spec, catalog.MCP); err != nil {
				return nil, nil, err
			}
			mcpTools = append(mcpTools, spec.Descriptor.Name)
		}
	}
	return external, mcpTools, nil
}

// tree declares the file's nodes and tools. MCP tools go on each MCP.Attach
// node, or on the root when none is named.
func (f *File) tree(mcpTools []string) *dsl.Builder {
	b := dsl.New()
	for _, n := range f.Nodes {
		nb := b.Add(n.ID).Instruction(n.Instruction).Describe(n.Description).Status(n.Status)
		if n.Root {
			nb.Root()
		} else {
			nb.Under(n.ParentID)
		}
		for _, t := range n.Tools {
			var opts []dsl.ToolOption
			if t.Config != nil {
				opts = append(opts, dsl.Config(ports.Config(t.Config)))
			}
			if len(t.Predecessors) > 0 {
				opts = append(opts, dsl.After(t.Predecessors...))
			}
			if t.Downstream != "" {
				opts = append(opts, dsl.Then(t.Downstream))
			}
			nb.Use(t.Name, opts...)
		}
	}

	targets := f.MCP.Attach
	if len(targets) == 0 {
		for _, n := range f.Nodes {
			if n.Root {
				targets = []string{n.ID}
				break
			}
		}
	}
	for _, nodeID := range targets {
		nb := b.Add(nodeID)
		for _, name := range mcpTools {
			nb.Use(name)
		}
	}
	return b
}
