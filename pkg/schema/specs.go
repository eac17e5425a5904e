package schema

import (
	"fmt"

	"github.com/aretw0/canopy/pkg/domain"
)

// FromInputs builds Fields from a capability's declared inputs.
// Unknown type names are reported together with default/required conflicts.
func FromInputs(inputs map[string]domain.InputSpec) (Fields, error) {
	fields := make(Fields, len(inputs))
	var errs []error
	for name, spec := range inputs {
		typ, err := ParseType(spec.Type)
		if err != nil {
			errs = append(errs, &ValidationError{Key: name, Reason: err.Error()})
			continue
		}
		fields[name] = Field{Type: typ, Required: spec.Required, Default: spec.Default}
	}
	if err := Check(fields); err != nil {
		errs = append(errs, ValidationErrors(err)...)
	}
	if len(errs) > 0 {
		return nil, &AggregateError{Errors: errs}
	}
	return fields, nil
}

// BindInputs validates inputs against a capability's declared inputs.
func BindInputs(inputs map[string]domain.InputSpec, data map[string]any) (map[string]any, error) {
	fields, err := FromInputs(inputs)
	if err != nil {
		return nil, fmt.Errorf("invalid input declaration: %w", err)
	}
	return Bind(fields, data)
}
