package domain

// InputSpec describes one parameter accepted by a capability.
type InputSpec struct {
	// Type is a schema type name: "string", "int", "float", "bool", "list", "map" or "any".
	Type        string `json:"type" yaml:"type" mapstructure:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// CapabilityDescriptor is the static metadata of a tool.
// It is shown to the predictor and is immutable once admitted into a registry.
type CapabilityDescriptor struct {
	Name        string               `json:"name" yaml:"name" mapstructure:"name"`
	Description string               `json:"description" yaml:"description" mapstructure:"description"`
	Inputs      map[string]InputSpec `json:"inputs,omitempty" yaml:"inputs,omitempty" mapstructure:"inputs"`

	// Terminal marks tools whose execution ends the run.
	Terminal bool `json:"end" yaml:"end" mapstructure:"end"`

	// Rule marks tools evaluated deterministically before the predictor is consulted.
	Rule bool `json:"rule" yaml:"rule" mapstructure:"rule"`

	// StatusTemplate is a short "currently doing X" text, emitted when the tool starts.
	StatusTemplate string `json:"status,omitempty" yaml:"status,omitempty" mapstructure:"status"`
}

// Clone returns a deep copy of the descriptor.
func (d CapabilityDescriptor) Clone() CapabilityDescriptor {
	out := d
	if d.Inputs != nil {
		out.Inputs = make(map[string]InputSpec, len(d.Inputs))
		for k, v := range d.Inputs {
			out.Inputs[k] = v
		}
	}
	return out
}

// RequiredInputs returns the names of the inputs marked as required.
func (d CapabilityDescriptor) RequiredInputs() []string {
	var names []string
	for name, spec := range d.Inputs {
		if spec.Required {
			names = append(names, name)
		}
	}
	return names
}
