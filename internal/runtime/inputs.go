package runtime

import (
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/schema"
)

// bindInputs fills defaults and validates inputs against the tool's declared inputs.
func bindInputs(desc domain.CapabilityDescriptor, inputs map[string]any) (map[string]any, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	bound, err := schema.BindInputs(desc.Inputs, inputs)
	if err != nil {
		errs := schema.ValidationErrors(err)
		if errs == nil {
			errs = []error{err}
		}
		return nil, &domain.InputValidationError{Tool: desc.Name, Errors: errs}
	}
	return bound, nil
}
