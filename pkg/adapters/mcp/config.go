package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Transport names.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ServerConfig describes one remote MCP server.
type ServerConfig struct {
	Name        string            `json:"name" yaml:"name" mapstructure:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Enabled     bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Transport   string            `json:"transport,omitempty" yaml:"transport,omitempty" mapstructure:"transport"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty" mapstructure:"command"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
}

// TransportKind returns the configured transport, inferring it when unset:
// a URL means SSE, anything else stdio.
func (c ServerConfig) TransportKind() string {
	if c.Transport != "" {
		return strings.ToLower(c.Transport)
	}
	if c.URL != "" {
		return TransportSSE
	}
	return TransportStdio
}

// HasTarget reports whether the transport has somewhere to connect to.
func (c ServerConfig) HasTarget() bool {
	switch c.TransportKind() {
	case TransportSSE:
		return c.URL != ""
	default:
		return c.Command != ""
	}
}

// Validate checks the fields required by the transport.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server: name is required")
	}
	switch c.TransportKind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server %q: command is required for stdio transport", c.Name)
		}
	case TransportSSE:
		if c.URL == "" {
			return fmt.Errorf("mcp server %q: url is required for sse transport", c.Name)
		}
	default:
		return fmt.Errorf("mcp server %q: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

// ConfigFile is the layout of mcp.json / mcp.yaml.
type ConfigFile struct {
	Servers []ServerConfig `json:"servers" yaml:"servers"`
}

// LoadServers reads server configs from a JSON or YAML file.
// A missing file yields no servers.
func LoadServers(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read mcp config: %w", err)
	}

	var cfg ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg.Servers, nil
}
