package schema

import (
	"testing"

	"github.com/aretw0/canopy/pkg/domain"
)

func TestBind_FillsDefaults(t *testing.T) {
	fields := Fields{
		"query": {Type: String(), Required: true},
		"limit": {Type: Int(), Default: 10},
	}

	got, err := Bind(fields, map[string]any{"query": "weather"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["limit"] != 10 {
		t.Errorf("limit = %v, want 10", got["limit"])
	}
	if got["query"] != "weather" {
		t.Errorf("query = %v, want weather", got["query"])
	}
}

func TestBind_DoesNotMutateInput(t *testing.T) {
	fields := Fields{"limit": {Type: Int(), Default: 10}}
	in := map[string]any{}

	if _, err := Bind(fields, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(in) != 0 {
		t.Errorf("input map was modified: %v", in)
	}
}

func TestBind_Errors(t *testing.T) {
	fields := Fields{
		"query": {Type: String(), Required: true},
		"limit": {Type: Int()},
	}

	_, err := Bind(fields, map[string]any{"limit": "ten"})
	if err == nil {
		t.Fatal("expected error")
	}
	errs := ValidationErrors(err)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	// Keys are checked in sorted order.
	if ve, ok := errs[0].(*ValidationError); !ok || ve.Key != "limit" {
		t.Errorf("first error = %v, want limit", errs[0])
	}
	if ve, ok := errs[1].(*ValidationError); !ok || ve.Key != "query" || ve.Reason != "required" {
		t.Errorf("second error = %v, want query required", errs[1])
	}
}

func TestBind_PassesUndeclaredKeys(t *testing.T) {
	got, err := Bind(Fields{}, map[string]any{"extra": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["extra"] != 1 {
		t.Errorf("extra = %v, want 1", got["extra"])
	}
}

func TestCheck(t *testing.T) {
	if err := Check(Fields{"a": {Type: Int(), Default: 1}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Check(Fields{"a": {Type: Int(), Default: "x"}}); err == nil {
		t.Error("expected default type error")
	}
	if err := Check(Fields{"a": {Type: Int(), Required: true, Default: 1}}); err == nil {
		t.Error("expected required-with-default error")
	}
	if err := Check(Fields{"a": {}}); err == nil {
		t.Error("expected missing type error")
	}
}

func TestFromInputs(t *testing.T) {
	fields, err := FromInputs(map[string]domain.InputSpec{
		"query": {Type: "string", Required: true},
		"tags":  {Type: "[string]", Default: []any{"a"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields["tags"].Type.Name() != "[string]" {
		t.Errorf("tags type = %q", fields["tags"].Type.Name())
	}

	if _, err := FromInputs(map[string]domain.InputSpec{"x": {Type: "datetime"}}); err == nil {
		t.Error("expected unknown type error")
	}
}
