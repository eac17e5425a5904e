package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

var errNoKnowledgeBase = errors.New("no knowledge base handle configured")

// Query searches a knowledge base collection.
type Query struct {
	Collection string `mapstructure:"collection"`
	// SummariserInTree suppresses the per-item Text events when a
	// summarise_items tool is attached after query.
	SummariserInTree bool `mapstructure:"summariser_in_tree"`
}

// QuerySpec registers query.
func QuerySpec() ports.Spec {
	return ports.Spec{
		Descriptor: (&Query{}).Descriptor(),
		New: func(cfg ports.Config) (ports.Capability, error) {
			q := &Query{Collection: "default"}
			if err := ports.DecodeConfig(cfg, q); err != nil {
				return nil, err
			}
			return q, nil
		},
	}
}

func (q *Query) Descriptor() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "query",
		Description: "Search the knowledge base for specific information matching a search query.",
		Inputs: map[string]domain.InputSpec{
			"query": {Type: "string", Required: true, Description: "Search terms."},
			"limit": {Type: "int", Default: 5, Description: "Maximum number of items."},
		},
		StatusTemplate: "Querying the knowledge base...",
	}
}

// Available requires a knowledge base handle.
func (q *Query) Available(_ context.Context, _ ports.RunView, h ports.Handles) (bool, error) {
	_, ok := knowledgeBase(h)
	return ok, nil
}

func (q *Query) Execute(ctx context.Context, _ ports.RunView, inputs map[string]any, h ports.Handles) ports.Stream {
	kb, ok := knowledgeBase(h)
	if !ok {
		return ports.Fail(errNoKnowledgeBase)
	}
	return func(yield func(domain.Event, error) bool) {
		query, _ := inputs["query"].(string)
		docs, err := kb.Search(ctx, q.Collection, query, toInt(inputs["limit"]))
		if err != nil {
			yield(domain.Event{}, fmt.Errorf("search %q: %w", q.Collection, err))
			return
		}
		if !q.SummariserInTree {
			for _, d := range docs {
				if !yield(domain.Text(describeObject(d)), nil) {
					return
				}
			}
		}
		yield(domain.ResultEvent(domain.Result{
			Type:     "documents",
			Objects:  docs,
			Metadata: map[string]any{"collection": q.Collection, "query": query, "count": len(docs)},
		}), nil)
	}
}

// Aggregate counts the documents of a collection grouped by a property.
type Aggregate struct {
	Collection string `mapstructure:"collection"`
}

// AggregateSpec registers aggregate.
func AggregateSpec() ports.Spec {
	return ports.Spec{
		Descriptor: (&Aggregate{}).Descriptor(),
		New: func(cfg ports.Config) (ports.Capability, error) {
			a := &Aggregate{Collection: "default"}
			if err := ports.DecodeConfig(cfg, a); err != nil {
				return nil, err
			}
			return a, nil
		},
	}
}

func (a *Aggregate) Descriptor() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "aggregate",
		Description: "Calculate summary statistics of the knowledge base, such as counts grouped by a property.",
		Inputs: map[string]domain.InputSpec{
			"group_by": {Type: "string", Required: true, Description: "Property to group by."},
		},
		StatusTemplate: "Aggregating the knowledge base...",
	}
}

// Available requires a knowledge base handle.
func (a *Aggregate) Available(_ context.Context, _ ports.RunView, h ports.Handles) (bool, error) {
	_, ok := knowledgeBase(h)
	return ok, nil
}

func (a *Aggregate) Execute(ctx context.Context, _ ports.RunView, inputs map[string]any, h ports.Handles) ports.Stream {
	kb, ok := knowledgeBase(h)
	if !ok {
		return ports.Fail(errNoKnowledgeBase)
	}
	return func(yield func(domain.Event, error) bool) {
		groupBy, _ := inputs["group_by"].(string)
		docs, err := kb.All(ctx, a.Collection)
		if err != nil {
			yield(domain.Event{}, fmt.Errorf("read %q: %w", a.Collection, err))
			return
		}

		counts := map[string]int{}
		for _, d := range docs {
			counts[fmt.Sprint(d[groupBy])]++
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		objects := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			objects = append(objects, map[string]any{groupBy: k, "count": counts[k]})
		}
		yield(domain.ResultEvent(domain.Result{
			Type:     "aggregation",
			Objects:  objects,
			Metadata: map[string]any{"collection": a.Collection, "group_by": groupBy, "total": len(docs)},
		}), nil)
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
