package process

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Tool exposes one allow-listed process as a capability.
type Tool struct {
	desc   domain.CapabilityDescriptor
	runner *Runner
}

// Specs builds one Spec per configured process, sorted by name.
// The runner's allow-list is extended with every config.
func Specs(runner *Runner, configs map[string]ProcessConfig) []ports.Spec {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]ports.Spec, 0, len(names))
	for _, name := range names {
		specs = append(specs, NewSpec(runner, configs[name]))
	}
	return specs
}

// NewSpec registers cfg with the runner and returns its Spec.
func NewSpec(runner *Runner, cfg ProcessConfig) ports.Spec {
	WithRegistry(map[string]ProcessConfig{cfg.Name: cfg})(runner)

	desc := domain.CapabilityDescriptor{
		Name:        cfg.Name,
		Description: cfg.Description,
		Inputs:      cfg.Inputs,
		Terminal:    cfg.Terminal,
	}
	if desc.Description == "" {
		desc.Description = fmt.Sprintf("Run the local command %s.", cfg.Command)
	}

	return ports.Spec{
		Descriptor: desc,
		New: func(kw ports.Config) (ports.Capability, error) {
			if err := ports.DecodeConfig(kw, &struct{}{}); err != nil {
				return nil, err
			}
			return &Tool{desc: desc.Clone(), runner: runner}, nil
		},
	}
}

func (t *Tool) Descriptor() domain.CapabilityDescriptor { return t.desc }

// Execute runs the process. Decoded JSON objects become Result objects; plain
// output becomes a Text event plus a Result with a single "output" object.
func (t *Tool) Execute(ctx context.Context, _ ports.RunView, inputs map[string]any, _ ports.Handles) ports.Stream {
	return func(yield func(domain.Event, error) bool) {
		out, err := t.runner.Run(ctx, t.desc.Name, inputs)
		if err != nil {
			yield(domain.Event{}, err)
			return
		}

		res := domain.Result{Name: t.desc.Name, Type: "process"}
		switch v := out.(type) {
		case map[string]any:
			res.Objects = []map[string]any{v}
		case []any:
			for _, item := range v {
				if obj, ok := item.(map[string]any); ok {
					res.Objects = append(res.Objects, obj)
				} else {
					res.Objects = append(res.Objects, map[string]any{"value": item})
				}
			}
		default:
			text := fmt.Sprint(v)
			if !yield(domain.Text(text), nil) {
				return
			}
			res.Objects = []map[string]any{{"output": text}}
		}
		yield(domain.ResultEvent(res), nil)
	}
}
