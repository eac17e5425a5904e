package schema

import (
	"fmt"
	"sort"
)

// Field describes one declared input.
type Field struct {
	Type     Type
	Required bool
	Default  any
}

// Fields maps input names to their declarations.
type Fields map[string]Field

// Check verifies that the declarations are coherent: defaults must match their
// type and a required field cannot carry a default.
func Check(fields Fields) error {
	var errs []error
	for _, key := range sortedKeys(fields) {
		f := fields[key]
		if f.Type == nil {
			errs = append(errs, &ValidationError{Key: key, Reason: "type is not set"})
			continue
		}
		if f.Default == nil {
			continue
		}
		if f.Required {
			errs = append(errs, &ValidationError{Key: key, Reason: "required inputs cannot declare a default"})
		}
		if err := f.Type.Validate(f.Default); err != nil {
			errs = append(errs, &ValidationError{Key: key, Reason: fmt.Sprintf("default: %v", err), Value: f.Default})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// Bind validates data against the declared fields and returns a new map with
// defaults filled in. Keys that are not declared are passed through unchanged.
func Bind(fields Fields, data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(data)+len(fields))
	for k, v := range data {
		out[k] = v
	}

	var errs []error
	for _, key := range sortedKeys(fields) {
		f := fields[key]
		value, exists := out[key]
		if !exists || value == nil {
			switch {
			case f.Required:
				errs = append(errs, &ValidationError{Key: key, Reason: "required"})
			case f.Default != nil:
				out[key] = f.Default
			}
			continue
		}
		if f.Type == nil {
			continue
		}
		if err := f.Type.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: key, Reason: err.Error(), Value: value})
		}
	}

	if len(errs) > 0 {
		return nil, &AggregateError{Errors: errs}
	}
	return out, nil
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
