package domain

import "encoding/json"

// Environment maps tool names to the Results they produced, in insertion order.
// Results are never deduplicated. The zero value is ready to use.
type Environment struct {
	order   []string
	results map[string][]Result
}

// NewEnvironment returns an empty environment.
func NewEnvironment() *Environment {
	return &Environment{results: make(map[string][]Result)}
}

// Append adds results under the tool's name.
func (e *Environment) Append(tool string, results ...Result) {
	if len(results) == 0 {
		return
	}
	if e.results == nil {
		e.results = make(map[string][]Result)
	}
	if _, ok := e.results[tool]; !ok {
		e.order = append(e.order, tool)
	}
	e.results[tool] = append(e.results[tool], results...)
}

// Contains reports whether the tool has produced at least one result.
func (e *Environment) Contains(tool string) bool {
	if e == nil {
		return false
	}
	_, ok := e.results[tool]
	return ok
}

// Results returns a copy of the results recorded for the tool.
func (e *Environment) Results(tool string) []Result {
	if e == nil {
		return nil
	}
	src := e.results[tool]
	if src == nil {
		return nil
	}
	out := make([]Result, len(src))
	copy(out, src)
	return out
}

// Tools returns the tool names in the order they first produced a result.
func (e *Environment) Tools() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Len returns the total number of results.
func (e *Environment) Len() int {
	if e == nil {
		return 0
	}
	n := 0
	for _, rs := range e.results {
		n += len(rs)
	}
	return n
}

// Clone returns an independent copy, used for snapshots handed to the predictor.
func (e *Environment) Clone() *Environment {
	out := NewEnvironment()
	if e == nil {
		return out
	}
	for _, tool := range e.order {
		out.Append(tool, e.results[tool]...)
	}
	return out
}

type environmentEntry struct {
	Tool    string   `json:"tool"`
	Results []Result `json:"results"`
}

// MarshalJSON encodes the environment as an ordered list of entries.
func (e *Environment) MarshalJSON() ([]byte, error) {
	entries := make([]environmentEntry, 0, len(e.order))
	for _, tool := range e.order {
		entries = append(entries, environmentEntry{Tool: tool, Results: e.results[tool]})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores an environment encoded by MarshalJSON.
func (e *Environment) UnmarshalJSON(data []byte) error {
	var entries []environmentEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	e.order = nil
	e.results = make(map[string][]Result, len(entries))
	for _, entry := range entries {
		e.Append(entry.Tool, entry.Results...)
	}
	return nil
}
