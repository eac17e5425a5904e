// Package config loads a canopy tree file and builds a Router from it.
//
// A tree file is YAML (JSON is accepted, being valid YAML) describing the
// branches, which catalog tools sit on them, and the external tool sources:
// MCP servers, allow-listed processes and Lua rules. When no nodes are
// declared the named preset is built instead.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/canopy/pkg/adapters/luarule"
	"github.com/aretw0/canopy/pkg/adapters/mcp"
	"github.com/aretw0/canopy/pkg/adapters/process"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvMaxSteps   = "CANOPY_MAX_STEPS"
	EnvMCPAsAgent = "CANOPY_MCP_AS_AGENT"
	EnvPreset     = "CANOPY_PRESET"
	EnvStoreURL   = "CANOPY_STORE_URL"

	// EnvEncryptionKey holds a 32-byte AES key, base64 or hex encoded.
	EnvEncryptionKey = "CANOPY_ENCRYPTION_KEY"
)

// File is the root of a tree file.
type File struct {
	Name   string `yaml:"name,omitempty"`
	Preset string `yaml:"preset,omitempty"`

	Engine Engine `yaml:"engine,omitempty"`
	Store  Store  `yaml:"store,omitempty"`

	Nodes []Node `yaml:"nodes,omitempty"`

	MCP      MCP                     `yaml:"mcp,omitempty"`
	Process  []process.ProcessConfig `yaml:"process_tools,omitempty"`
	LuaRules []luarule.Config        `yaml:"lua_rules,omitempty"`

	// BaseDir resolves relative script paths. Load sets it to the file's directory.
	BaseDir string `yaml:"-"`
}

// Engine holds the run limits.
type Engine struct {
	MaxSteps         int           `yaml:"max_steps,omitempty"`
	StepTimeout      time.Duration `yaml:"step_timeout,omitempty"`
	PredictorTimeout time.Duration `yaml:"predictor_timeout,omitempty"`
	ReturnToRoot     bool          `yaml:"return_to_root,omitempty"`
	// Predictor is "first" (default) or "keyword".
	Predictor string `yaml:"predictor,omitempty"`
}

// Store selects where finished runs are kept.
type Store struct {
	// Driver is "memory" (default), "redis", "sqlite" or "file".
	Driver string `yaml:"driver,omitempty"`
	// URL is a redis:// URL, a SQLite path or a directory for the file driver.
	URL string        `yaml:"url,omitempty"`
	TTL time.Duration `yaml:"ttl,omitempty"`

	// EncryptionKey encrypts stored runs at rest. FallbackKeys still decrypt
	// runs written before a key rotation.
	EncryptionKey string   `yaml:"encryption_key,omitempty"`
	FallbackKeys  []string `yaml:"fallback_keys,omitempty"`
	// Redact lists result keys (regular expressions) masked before storage.
	Redact []string `yaml:"redact,omitempty"`
}

// Kind returns the driver, inferring it from the URL when unset.
func (s Store) Kind() string {
	switch {
	case s.Driver != "":
		return s.Driver
	case strings.HasPrefix(s.URL, "redis://"), strings.HasPrefix(s.URL, "rediss://"):
		return "redis"
	case s.URL != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// Node is a branch with its tool attachments.
type Node struct {
	graph.NodeSpec `yaml:",inline"`
	Tools          []Tool `yaml:"tools,omitempty"`
}

// Tool places a catalog tool on a node.
type Tool struct {
	Name         string         `yaml:"name"`
	Config       map[string]any `yaml:"config,omitempty"`
	Predecessors []string       `yaml:"predecessors,omitempty"`
	Downstream   string         `yaml:"downstream,omitempty"`
}

// MCP configures remote tool servers.
type MCP struct {
	// AsAgent exposes each server as one gateway tool instead of one tool per remote tool.
	AsAgent bool `yaml:"as_agent,omitempty"`
	// Attach lists the nodes that receive every MCP tool. Empty means the root.
	Attach  []string           `yaml:"attach,omitempty"`
	Servers []mcp.ServerConfig `yaml:"servers,omitempty"`
}

// Load reads and validates a tree file, then applies environment overrides.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	f.BaseDir = filepath.Dir(path)
	if err := f.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return f, nil
}

// Parse decodes a tree file. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	f := &File{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ApplyEnv overrides settings from the environment through lookup.
func (f *File) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMaxSteps); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: expected a positive integer, got %q", EnvMaxSteps, v)
		}
		f.Engine.MaxSteps = n
	}
	if v, ok := lookup(EnvMCPAsAgent); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: expected a boolean, got %q", EnvMCPAsAgent, v)
		}
		f.MCP.AsAgent = b
	}
	if v, ok := lookup(EnvPreset); ok && v != "" {
		f.Preset = v
	}
	if v, ok := lookup(EnvStoreURL); ok && v != "" {
		f.Store.URL = v
	}
	if v, ok := lookup(EnvEncryptionKey); ok && v != "" {
		f.Store.EncryptionKey = v
	}
	return nil
}

// Validate checks the file for mistakes that do not need a Router to detect.
func (f *File) Validate() error {
	var errs []error

	if f.Engine.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.max_steps must not be negative"))
	}
	switch f.Engine.Predictor {
	case "", "first", "keyword":
	default:
		errs = append(errs, fmt.Errorf("engine.predictor: unknown predictor %q", f.Engine.Predictor))
	}
	switch kind := f.Store.Kind(); kind {
	case "memory":
	case "file":
	case "redis", "sqlite":
		if f.Store.URL == "" {
			errs = append(errs, fmt.Errorf("store.url is required for the %s driver", kind))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", f.Store.Driver))
	}
	for i, k := range append([]string{f.Store.EncryptionKey}, f.Store.FallbackKeys...) {
		if k == "" {
			continue
		}
		if _, err := DecodeKey(k); err != nil {
			errs = append(errs, fmt.Errorf("store keys[%d]: %w", i, err))
		}
	}
	for _, pattern := range f.Store.Redact {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("store.redact: %w", err))
		}
	}

	seen := map[string]bool{}
	roots := 0
	for i, n := range f.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("nodes[%d]: id is required", i))
			continue
		}
		if seen[n.ID] {
			errs = append(errs, fmt.Errorf("nodes[%d]: duplicate id %q", i, n.ID))
		}
		seen[n.ID] = true
		if n.Root {
			roots++
		}
		for j, t := range n.Tools {
			if t.Name == "" {
				errs = append(errs, fmt.Errorf("nodes[%d].tools[%d]: name is required", i, j))
			}
		}
	}
	if len(f.Nodes) > 0 && roots != 1 {
		errs = append(errs, fmt.Errorf("nodes: exactly one root is required, found %d", roots))
	}

	for _, s := range f.MCP.Servers {
		if !s.Enabled {
			continue
		}
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for i, p := range f.Process {
		if p.Name == "" || p.Command == "" {
			errs = append(errs, fmt.Errorf("process_tools[%d]: name and command are required", i))
		}
	}
	for i, r := range f.LuaRules {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("lua_rules[%d]: name is required", i))
		}
		if r.Script == "" && r.File == "" {
			errs = append(errs, fmt.Errorf("lua_rules[%d]: script or file is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
