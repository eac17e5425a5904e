// Package presets builds the standard tree layouts.
package presets

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/catalog"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
)

const (
	MultiBranch = "multi_branch"
	OneBranch   = "one_branch"
	Empty       = "empty"
)

// ToolRef places a catalog tool on a branch.
type ToolRef struct {
	Name         string
	Config       ports.Config
	Predecessors []string
}

// Branch is one node of a preset.
type Branch struct {
	Spec  graph.NodeSpec
	Tools []ToolRef
}

// Preset is an ordered list of branches; parents come before children.
type Preset struct {
	Name     string
	Branches []Branch
}

const baseInstruction = `Choose a base-level task based on the user's prompt and available information.
Decide based on the tools you have available as well as their descriptions.
Read them thoroughly and match the actions to the user prompt.`

var presets = map[string]Preset{
	MultiBranch: {
		Name: MultiBranch,
		Branches: []Branch{
			{
				Spec: graph.NodeSpec{
					ID:   "base",
					Root: true,
					Instruction: `Choose a base-level task based on the user's prompt and available information.
You can search, which includes aggregating or querying information, if the user needs (more) information.
You can end the conversation by choosing text response, or summarise some retrieved information.`,
					Status: "Choosing a base-level task...",
				},
				Tools: []ToolRef{{Name: "cited_summarizer"}, {Name: "text_response"}, {Name: "visualise"}},
			},
			{
				Spec: graph.NodeSpec{
					ID:       "search",
					ParentID: "base",
					Instruction: `Choose between querying the knowledge base via search, or aggregating information by
performing operations on the knowledge base.`,
					Description: "Search the knowledge base. Use this when the user is lacking information for this prompt.",
					Status:      "Searching the knowledge base...",
				},
				Tools: []ToolRef{
					{Name: "query", Config: ports.Config{"summariser_in_tree": true}},
					{Name: "aggregate"},
					{Name: "summarise_items", Predecessors: []string{"query"}},
				},
			},
		},
	},
	OneBranch: {
		Name: OneBranch,
		Branches: []Branch{
			{
				Spec: graph.NodeSpec{ID: "base", Root: true, Instruction: baseInstruction, Status: "Choosing a base-level task..."},
				Tools: []ToolRef{
					{Name: "cited_summarizer"},
					{Name: "text_response"},
					{Name: "aggregate"},
					{Name: "query", Config: ports.Config{"summariser_in_tree": true}},
					{Name: "visualise"},
					{Name: "summarise_items", Predecessors: []string{"query"}},
				},
			},
		},
	},
	Empty: {
		Name: Empty,
		Branches: []Branch{
			{Spec: graph.NodeSpec{ID: "base", Root: true, Instruction: baseInstruction, Status: "Choosing a base-level task..."}},
		},
	},
}

// Names lists the known presets.
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the preset for mode. "default", "" and unknown modes
// resolve to one_branch; the second result is false for unknown modes.
func Resolve(mode string) (Preset, bool) {
	if mode == "" || mode == "default" {
		return presets[OneBranch], true
	}
	p, ok := presets[mode]
	if !ok {
		return presets[OneBranch], false
	}
	return p, true
}

// Option configures Apply.
type Option func(*applyConfig)

type applyConfig struct {
	logger *slog.Logger
	extra  []string
}

// WithLogger sets the logger for skipped tools and fallbacks.
func WithLogger(logger *slog.Logger) Option {
	return func(c *applyConfig) { c.logger = logger }
}

// WithExtraTools attaches additional catalog tools to the root branch.
func WithExtraTools(names ...string) Option {
	return func(c *applyConfig) { c.extra = append(c.extra, names...) }
}

// Apply builds the preset named mode into r, resolving tools from cat.
// Tools missing from the catalog are skipped with a warning.
func Apply(r *canopy.Router, cat *catalog.Catalog, mode string, opts ...Option) error {
	cfg := &applyConfig{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	preset, known := Resolve(mode)
	if !known {
		cfg.logger.Warn("unknown preset, falling back", "preset", mode, "fallback", preset.Name)
	}

	for _, b := range preset.Branches {
		if _, err := r.AddNode(b.Spec); err != nil {
			return fmt.Errorf("preset %s: %w", preset.Name, err)
		}
		for _, ref := range b.Tools {
			if err := admit(r, cat, b.Spec.ID, ref, cfg.logger); err != nil {
				return fmt.Errorf("preset %s: %w", preset.Name, err)
			}
		}
	}

	root := preset.Branches[0].Spec.ID
	for _, name := range cfg.extra {
		if err := admit(r, cat, root, ToolRef{Name: name}, cfg.logger); err != nil {
			return fmt.Errorf("preset %s: %w", preset.Name, err)
		}
	}
	return nil
}

func admit(r *canopy.Router, cat *catalog.Catalog, nodeID string, ref ToolRef, logger *slog.Logger) error {
	spec, ok := cat.Lookup(ref.Name)
	if !ok {
		logger.Warn("preset tool not in catalog, skipping", "tool", ref.Name, "branch", nodeID)
		return nil
	}
	var attach []graph.AttachOption
	if len(ref.Predecessors) > 0 {
		attach = append(attach, graph.WithPredecessors(ref.Predecessors...))
	}
	_, err := r.AdmitTool(spec, ref.Config, nodeID, attach...)
	return err
}
