// Package schema provides the small type system used to describe and validate
// tool inputs.
//
// Each tool input declares a type name ("string", "int", "float", "bool",
// "list", "map", "any", or a typed list such as "[string]"). Before a tool runs,
// the engine binds the predictor's inputs against the declared fields: defaults
// are filled in, required fields are checked and every value is validated
// against its type.
//
//	fields := schema.Fields{
//	    "query": {Type: schema.String(), Required: true},
//	    "limit": {Type: schema.Int(), Default: 10},
//	}
//	bound, err := schema.Bind(fields, map[string]any{"query": "weather"})
//	// bound == {"query": "weather", "limit": 10}
package schema
