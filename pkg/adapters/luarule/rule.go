// Package luarule builds rule tools whose logic is a Lua script.
//
// A script may define any of three global functions:
//
//	available(view)      -> bool                  (default: true)
//	decide(view)         -> bool | {force, inputs} (default: decline)
//	run(view, inputs)    -> string | {objects, name, type, text}
//
// view is a table with request, run_id, node, step, tools (names present in
// the Environment), history (executed tool names) and env (tool name to a
// list of result objects). Tool keyword configuration is exposed as the
// global table config.
package luarule

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Config declares one Lua rule tool.
type Config struct {
	Name        string                      `json:"name" yaml:"name" mapstructure:"name"`
	Description string                      `json:"description" yaml:"description" mapstructure:"description"`
	Inputs      map[string]domain.InputSpec `json:"inputs,omitempty" yaml:"inputs,omitempty" mapstructure:"inputs"`
	Terminal    bool                        `json:"end,omitempty" yaml:"end,omitempty" mapstructure:"end"`
	Status      string                      `json:"status,omitempty" yaml:"status,omitempty" mapstructure:"status"`

	// Script is inline Lua source. File is read when Script is empty.
	Script string `json:"script,omitempty" yaml:"script,omitempty" mapstructure:"script"`
	File   string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
}

// Rule is a ports.RuleCapability backed by a compiled Lua chunk.
// Every call runs in a fresh interpreter, so a Rule is safe for concurrent runs.
type Rule struct {
	desc   domain.CapabilityDescriptor
	proto  *lua.FunctionProto
	config ports.Config
}

var _ ports.RuleCapability = (*Rule)(nil)

// Spec compiles the script and returns a registrable Spec.
// Keyword configuration given at admission becomes the script's config table.
func Spec(cfg Config) (ports.Spec, error) {
	desc := domain.CapabilityDescriptor{
		Name:           cfg.Name,
		Description:    cfg.Description,
		Inputs:         cfg.Inputs,
		Terminal:       cfg.Terminal,
		Rule:           true,
		StatusTemplate: cfg.Status,
	}

	source := cfg.Script
	if source == "" {
		if cfg.File == "" {
			return ports.Spec{}, fmt.Errorf("lua rule %q: script or file is required", cfg.Name)
		}
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return ports.Spec{}, fmt.Errorf("lua rule %q: %w", cfg.Name, err)
		}
		source = string(data)
	}

	proto, err := compile(cfg.Name, source)
	if err != nil {
		return ports.Spec{}, err
	}

	return ports.Spec{
		Descriptor: desc,
		New: func(kwargs ports.Config) (ports.Capability, error) {
			return &Rule{desc: desc.Clone(), proto: proto, config: kwargs}, nil
		},
	}, nil
}

func compile(name, source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("lua rule %q: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("lua rule %q: %w", name, err)
	}
	return proto, nil
}

func (r *Rule) Descriptor() domain.CapabilityDescriptor { return r.desc }

// Available calls the script's available function.
func (r *Rule) Available(ctx context.Context, view ports.RunView, _ ports.Handles) (bool, error) {
	ok := true
	err := r.call(ctx, "available", func(L *lua.LState) []lua.LValue {
		return []lua.LValue{viewTable(L, view)}
	}, func(ret lua.LValue) error {
		ok = lua.LVAsBool(ret)
		return nil
	})
	return ok, err
}

// Decide calls the script's decide function.
func (r *Rule) Decide(ctx context.Context, view ports.RunView, _ ports.Handles) (ports.Decision, error) {
	var d ports.Decision
	err := r.call(ctx, "decide", func(L *lua.LState) []lua.LValue {
		return []lua.LValue{viewTable(L, view)}
	}, func(ret lua.LValue) error {
		switch v := ret.(type) {
		case *lua.LTable:
			d.Force = lua.LVAsBool(v.RawGetString("force"))
			if in, ok := toGo(v.RawGetString("inputs")).(map[string]any); ok {
				d.Inputs = in
			}
		default:
			d.Force = lua.LVAsBool(v)
		}
		return nil
	})
	return d, err
}

// Execute calls the script's run function and converts its return value to events.
func (r *Rule) Execute(ctx context.Context, view ports.RunView, inputs map[string]any, _ ports.Handles) ports.Stream {
	return func(yield func(domain.Event, error) bool) {
		var events []domain.Event
		err := r.call(ctx, "run", func(L *lua.LState) []lua.LValue {
			return []lua.LValue{viewTable(L, view), toLua(L, inputs)}
		}, func(ret lua.LValue) error {
			var err error
			events, err = r.events(ret)
			return err
		})
		if err != nil {
			yield(domain.Event{}, err)
			return
		}
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (r *Rule) events(ret lua.LValue) ([]domain.Event, error) {
	switch v := ret.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		return []domain.Event{domain.Text(string(v))}, nil
	case *lua.LTable:
		out, _ := toGo(v).(map[string]any)
		var events []domain.Event
		if text, ok := out["text"].(string); ok && text != "" {
			events = append(events, domain.Text(text))
		}
		if raw, ok := out["objects"]; ok {
			objects, err := toObjects(raw)
			if err != nil {
				return nil, fmt.Errorf("lua rule %q: %w", r.desc.Name, err)
			}
			name, _ := out["name"].(string)
			typ, _ := out["type"].(string)
			events = append(events, domain.ResultEvent(domain.Result{Name: name, Type: typ, Objects: objects}))
		}
		return events, nil
	default:
		return nil, fmt.Errorf("lua rule %q: run returned %s", r.desc.Name, ret.Type())
	}
}

// call runs fn(args...) in a fresh sandboxed state. A missing function is not an error.
func (r *Rule) call(ctx context.Context, fn string, args func(*lua.LState) []lua.LValue, ret func(lua.LValue) error) error {
	L := newState()
	defer L.Close()
	L.SetContext(ctx)

	L.SetGlobal("config", toLua(L, map[string]any(r.config)))
	L.Push(L.NewFunctionFromProto(r.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("lua rule %q: load: %w", r.desc.Name, err)
	}

	f := L.GetGlobal(fn)
	if f == lua.LNil {
		return nil
	}
	if err := L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, args(L)...); err != nil {
		return fmt.Errorf("lua rule %q: %s: %w", r.desc.Name, fn, err)
	}
	v := L.Get(-1)
	L.Pop(1)
	return ret(v)
}

// newState returns an interpreter limited to deterministic, side-effect-free libraries.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	for _, name := range []string{"loadfile", "dofile", "load", "loadstring", "print", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	if math, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(math, "random", lua.LNil)
		L.SetField(math, "randomseed", lua.LNil)
	}
	return L
}
