package schema

import (
	"testing"
)

func TestScalarTypes(t *testing.T) {
	tests := []struct {
		typ     Type
		name    string
		value   any
		wantErr bool
	}{
		{String(), "string", "hello", false},
		{String(), "string", 42, true},
		{Int(), "int", 42, false},
		{Int(), "int", int64(7), false},
		{Int(), "int", float64(3), false},
		{Int(), "int", 3.5, true},
		{Int(), "int", "42", true},
		{Float(), "float", 3.14, false},
		{Float(), "float", 3, false},
		{Float(), "float", "3.14", true},
		{Bool(), "bool", true, false},
		{Bool(), "bool", "true", true},
		{Any(), "any", nil, false},
		{Map(), "map", map[string]any{"a": 1}, false},
		{Map(), "map", map[int]any{1: 1}, true},
		{Map(), "map", []any{}, true},
	}

	for _, tt := range tests {
		if tt.typ.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", tt.typ.Name(), tt.name)
		}
		err := tt.typ.Validate(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s.Validate(%v) error = %v, wantErr %v", tt.name, tt.value, err, tt.wantErr)
		}
	}
}

func TestSliceType(t *testing.T) {
	typ := Slice(String())
	if typ.Name() != "[string]" {
		t.Errorf("Name() = %q, want %q", typ.Name(), "[string]")
	}
	if err := typ.Validate([]any{"a", "b"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := typ.Validate([]string{"a"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := typ.Validate([]any{"a", 1}); err == nil {
		t.Error("expected element error")
	}
	if err := typ.Validate("a"); err == nil {
		t.Error("expected list error")
	}

	if got := Slice(Any()).Name(); got != "list" {
		t.Errorf("Name() = %q, want %q", got, "list")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"string", "string", false},
		{"str", "string", false},
		{"integer", "int", false},
		{"number", "float", false},
		{"boolean", "bool", false},
		{"list", "list", false},
		{"dict", "map", false},
		{"", "any", false},
		{"[int]", "[int]", false},
		{"[[string]]", "[[string]]", false},
		{"datetime", "", true},
		{"[datetime]", "", true},
	}

	for _, tt := range tests {
		got, err := ParseType(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && got.Name() != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.input, got.Name(), tt.want)
		}
	}
}
