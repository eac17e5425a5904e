package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// SummariseItems condenses the items another tool retrieved.
// It is attached with that tool as its predecessor.
type SummariseItems struct {
	Source string `mapstructure:"source"`
}

// SummariseItemsSpec registers summarise_items.
func SummariseItemsSpec() ports.Spec {
	return ports.Spec{
		Descriptor: (&SummariseItems{}).Descriptor(),
		New: func(cfg ports.Config) (ports.Capability, error) {
			s := &SummariseItems{Source: "query"}
			if err := ports.DecodeConfig(cfg, s); err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

func (s *SummariseItems) Descriptor() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:           "summarise_items",
		Description:    "Summarise each retrieved item in one line.",
		StatusTemplate: "Summarising items...",
	}
}

func (s *SummariseItems) Execute(_ context.Context, view ports.RunView, _ map[string]any, _ ports.Handles) ports.Stream {
	var summaries []map[string]any
	for _, res := range view.Environment().Results(s.Source) {
		for _, obj := range res.Objects {
			summaries = append(summaries, map[string]any{"summary": describeObject(obj)})
		}
	}
	return ports.Emit(domain.ResultEvent(domain.Result{
		Type:     "summaries",
		Objects:  summaries,
		Metadata: map[string]any{"source": s.Source},
	}))
}

// Visualise renders aggregation Results as a bar chart description.
type Visualise struct{}

// VisualiseSpec registers visualise.
func VisualiseSpec() ports.Spec {
	return ports.Spec{
		Descriptor: (&Visualise{}).Descriptor(),
		New:        func(ports.Config) (ports.Capability, error) { return &Visualise{}, nil },
	}
}

func (v *Visualise) Descriptor() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "visualise",
		Description: "Visualise aggregated data as a bar chart.",
		Inputs: map[string]domain.InputSpec{
			"title": {Type: "string", Default: "Chart"},
		},
		StatusTemplate: "Building a chart...",
	}
}

// Available requires aggregation Results in the Environment.
func (v *Visualise) Available(_ context.Context, view ports.RunView, _ ports.Handles) (bool, error) {
	return view.Environment().Contains("aggregate"), nil
}

func (v *Visualise) Execute(_ context.Context, view ports.RunView, inputs map[string]any, _ ports.Handles) ports.Stream {
	results := view.Environment().Results("aggregate")
	if len(results) == 0 {
		return ports.Fail(fmt.Errorf("nothing to visualise"))
	}
	last := results[len(results)-1]
	groupBy, _ := last.Metadata["group_by"].(string)

	var bars []map[string]any
	for _, obj := range last.Objects {
		bars = append(bars, map[string]any{"label": fmt.Sprint(obj[groupBy]), "value": obj["count"]})
	}
	return ports.Emit(domain.ResultEvent(domain.Result{
		Type:     "bar_chart",
		Objects:  bars,
		Metadata: map[string]any{"title": inputs["title"]},
	}))
}

// describeObject renders an object as "k=v, k=v" with sorted keys.
func describeObject(obj map[string]any) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, obj[k])
	}
	return strings.Join(parts, ", ")
}
