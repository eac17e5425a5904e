package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Mask replaces sensitive values.
const Mask = "***"

type piiMiddleware struct {
	next     ports.RunStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the values of keys matching
// the patterns, in result objects and in decision inputs, before saving.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PII pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.RunStore) ports.RunStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, conversationID string, state *domain.RunState) error {
	// Deep copy so the caller's state keeps its values.
	cloned, err := deepCopy(state)
	if err != nil {
		return err
	}

	for _, tool := range cloned.Environment.Tools() {
		for _, r := range cloned.Environment.Results(tool) {
			for _, obj := range r.Objects {
				maskMap(obj, m.patterns)
			}
			maskMap(r.Metadata, m.patterns)
		}
	}
	for _, e := range cloned.History {
		maskMap(e.Inputs, m.patterns)
	}

	return m.next.Save(ctx, conversationID, cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, conversationID string) (*domain.RunState, error) {
	return m.next.Load(ctx, conversationID)
}

func (m *piiMiddleware) Delete(ctx context.Context, conversationID string) error {
	return m.next.Delete(ctx, conversationID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

func deepCopy(state *domain.RunState) (*domain.RunState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to copy run: %w", err)
	}
	var out domain.RunState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy run: %w", err)
	}
	out.Err = state.Err
	if out.Environment == nil {
		out.Environment = domain.NewEnvironment()
	}
	return &out, nil
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if masked {
			continue
		}

		switch sub := v.(type) {
		case map[string]any:
			maskMap(sub, patterns)
		case []any:
			for _, item := range sub {
				if subMap, ok := item.(map[string]any); ok {
					maskMap(subMap, patterns)
				}
			}
		}
	}
}
