package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ProcessConfig declares one allow-listed local command exposed as a tool.
type ProcessConfig struct {
	Name        string                      `yaml:"name" json:"name" mapstructure:"name"`
	Command     string                      `yaml:"command" json:"command" mapstructure:"command"`
	Args        []string                    `yaml:"args" json:"args" mapstructure:"args"`
	Environment map[string]string           `yaml:"env" json:"env" mapstructure:"env"`
	Description string                      `yaml:"description" json:"description" mapstructure:"description"`
	Inputs      map[string]domain.InputSpec `yaml:"inputs,omitempty" json:"inputs,omitempty" mapstructure:"inputs"`
	Terminal    bool                        `yaml:"end,omitempty" json:"end,omitempty" mapstructure:"end"`
	Timeout     time.Duration               `yaml:"timeout,omitempty" json:"timeout,omitempty" mapstructure:"timeout"`
}

// ConfigFile represents the structure of tools.yaml.
type ConfigFile struct {
	Tools []ProcessConfig `yaml:"tools" json:"tools"`
}

// LoadTools reads a configuration file (YAML or JSON) and returns the tools by name.
// A missing file yields no tools.
func LoadTools(path string) (map[string]ProcessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ProcessConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read tools config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	tools := make(map[string]ProcessConfig)
	for _, tool := range cfg.Tools {
		if tool.Name == "" {
			continue
		}
		tools[tool.Name] = tool
	}
	return tools, nil
}
