// Package catalog is the registration table of known tools.
//
// Tools are registered once at startup under a category. Configuration files
// and presets refer to tools by name and resolve their Spec here; nothing is
// discovered by scanning packages.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/tools"
	"gopkg.in/yaml.v3"
)

// Category groups tools in listings.
type Category string

const (
	Retrieval      Category = "retrieval"
	Text           Category = "text"
	Visualization  Category = "visualization"
	Postprocessing Category = "postprocessing"
	MCP            Category = "mcp"
	Other          Category = "other"
)

type entry struct {
	spec     ports.Spec
	category Category
}

// Catalog maps tool names to their specs.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]entry)}
}

// Builtin returns a catalog holding the tools of package tools.
func Builtin() *Catalog {
	c := New()
	c.MustRegister(tools.QuerySpec(), Retrieval)
	c.MustRegister(tools.AggregateSpec(), Retrieval)
	c.MustRegister(tools.TextResponseSpec(), Text)
	c.MustRegister(tools.CitedSummarizerSpec(), Text)
	c.MustRegister(tools.VisualiseSpec(), Visualization)
	c.MustRegister(tools.SummariseItemsSpec(), Postprocessing)
	c.MustRegister(tools.EchoSpec(), Other)
	return c
}

// Register adds a spec. An empty category is inferred from the tool name.
func (c *Catalog) Register(spec ports.Spec, category Category) error {
	name := spec.Descriptor.Name
	if name == "" {
		return fmt.Errorf("catalog: spec has no name")
	}
	if category == "" {
		category = Categorize(name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("catalog: tool %q already registered", name)
	}
	c.entries[name] = entry{spec: spec, category: category}
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Catalog) MustRegister(spec ports.Spec, category Category) {
	if err := c.Register(spec, category); err != nil {
		panic(err)
	}
}

// Lookup returns the spec registered under name.
func (c *Catalog) Lookup(name string) (ports.Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e.spec, ok
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Category returns the category of a registered tool.
func (c *Catalog) Category(name string) (Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e.category, ok
}

// Metadata returns the descriptors of every registered tool without instantiating them.
func (c *Catalog) Metadata() map[string]domain.CapabilityDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.CapabilityDescriptor, len(c.entries))
	for n, e := range c.entries {
		out[n] = e.spec.Descriptor.Clone()
	}
	return out
}

// Categorize infers a category from a tool name.
func Categorize(name string) Category {
	n := strings.ToLower(name)
	has := func(kws ...string) bool {
		for _, kw := range kws {
			if strings.Contains(n, kw) {
				return true
			}
		}
		return false
	}
	switch {
	case strings.HasPrefix(n, "mcp_"):
		return MCP
	case has("summarise_items", "postprocess"):
		return Postprocessing
	case has("query", "aggregate", "search", "retrieve"):
		return Retrieval
	case has("text", "summarize", "summarise", "cite"):
		return Text
	case has("visual", "plot", "chart", "graph", "regression"):
		return Visualization
	default:
		return Other
	}
}

type discoveryEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	End         bool   `yaml:"end"`
	Rule        bool   `yaml:"rule,omitempty"`
	Available   bool   `yaml:"available"`
}

type discovered struct {
	Retrieval      map[string]discoveryEntry `yaml:"retrieval,omitempty"`
	Text           map[string]discoveryEntry `yaml:"text,omitempty"`
	Visualization  map[string]discoveryEntry `yaml:"visualization,omitempty"`
	Postprocessing map[string]discoveryEntry `yaml:"postprocessing,omitempty"`
	MCP            map[string]discoveryEntry `yaml:"mcp,omitempty"`
	Other          map[string]discoveryEntry `yaml:"other,omitempty"`
}

// DiscoveryYAML renders the catalog grouped by category.
func (c *Catalog) DiscoveryYAML() ([]byte, error) {
	c.mu.RLock()
	var doc discovered
	for name, e := range c.entries {
		d := e.spec.Descriptor
		item := discoveryEntry{Name: d.Name, Description: d.Description, End: d.Terminal, Rule: d.Rule, Available: true}
		if item.Description == "" {
			item.Description = "No description available"
		}
		bucket := doc.bucket(e.category)
		if *bucket == nil {
			*bucket = make(map[string]discoveryEntry)
		}
		(*bucket)[name] = item
	}
	c.mu.RUnlock()

	return yaml.Marshal(map[string]discovered{"discovered_tools": doc})
}

func (d *discovered) bucket(c Category) *map[string]discoveryEntry {
	switch c {
	case Retrieval:
		return &d.Retrieval
	case Text:
		return &d.Text
	case Visualization:
		return &d.Visualization
	case Postprocessing:
		return &d.Postprocessing
	case MCP:
		return &d.MCP
	default:
		return &d.Other
	}
}
