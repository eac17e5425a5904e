package predictor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// ErrScriptExhausted is returned by Scripted once every choice has been used.
var ErrScriptExhausted = errors.New("scripted predictor has no choices left")

// Scripted returns pre-recorded choices in order.
type Scripted struct {
	mu      sync.Mutex
	choices []ports.Choice
	next    int
	// Repeat restarts the script from the beginning once exhausted.
	Repeat bool
}

// NewScripted creates a predictor that replays the given choices.
func NewScripted(choices ...ports.Choice) *Scripted {
	return &Scripted{choices: choices}
}

// Tools is a shorthand for a script of tool names without inputs.
func Tools(names ...string) *Scripted {
	choices := make([]ports.Choice, len(names))
	for i, n := range names {
		choices[i] = ports.Choice{ToolName: n}
	}
	return NewScripted(choices...)
}

// Choose returns the next scripted choice.
func (s *Scripted) Choose(_ context.Context, _ ports.Options) (ports.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.choices) {
		if !s.Repeat || len(s.choices) == 0 {
			return ports.Choice{}, ErrScriptExhausted
		}
		s.next = 0
	}
	c := s.choices[s.next]
	s.next++
	return c, nil
}

// Calls returns how many choices have been handed out since the last restart.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// First picks the first eligible non-terminal tool that has not run yet, then
// the first terminal tool. With no tools it descends into the first branch.
// Required inputs of type string are filled with the request text.
type First struct{}

// Choose implements ports.Predictor.
func (First) Choose(_ context.Context, opts ports.Options) (ports.Choice, error) {
	for _, d := range opts.Tools {
		if !d.Terminal && !executed(opts.History, d.Name) {
			return ports.Choice{ToolName: d.Name, Inputs: fillInputs(d, opts.Request)}, nil
		}
	}
	for _, d := range opts.Tools {
		if d.Terminal {
			return ports.Choice{ToolName: d.Name, Inputs: fillInputs(d, opts.Request)}, nil
		}
	}
	for _, b := range opts.Branches {
		return ports.Choice{TargetNodeID: b.ID}, nil
	}
	if len(opts.Tools) > 0 {
		d := opts.Tools[0]
		return ports.Choice{ToolName: d.Name, Inputs: fillInputs(d, opts.Request)}, nil
	}
	return ports.Choice{}, fmt.Errorf("nothing to choose at node %q", opts.NodeID)
}

// Keyword scores tools and branches by how many request words appear in their
// name or description. Ties keep attachment order. When nothing matches it
// behaves like First.
type Keyword struct{}

// Choose implements ports.Predictor.
func (Keyword) Choose(ctx context.Context, opts ports.Options) (ports.Choice, error) {
	words := tokenize(opts.Request)

	bestScore := 0
	var best ports.Choice
	for _, d := range opts.Tools {
		if !d.Terminal && executed(opts.History, d.Name) {
			continue
		}
		if s := score(words, d.Name+" "+d.Description); s > bestScore {
			bestScore = s
			best = ports.Choice{ToolName: d.Name, Inputs: fillInputs(d, opts.Request)}
		}
	}
	for _, b := range opts.Branches {
		if s := score(words, b.ID+" "+b.Description); s > bestScore {
			bestScore = s
			best = ports.Choice{TargetNodeID: b.ID}
		}
	}
	if bestScore > 0 {
		return best, nil
	}
	return First{}.Choose(ctx, opts)
}

// executed reports whether history records a run of the tool. Tools that
// yield no Result still count.
func executed(history []domain.DecisionEntry, name string) bool {
	return slices.ContainsFunc(history, func(e domain.DecisionEntry) bool { return e.ToolName == name })
}

func fillInputs(d domain.CapabilityDescriptor, request string) map[string]any {
	inputs := map[string]any{}
	for name, spec := range d.Inputs {
		if spec.Required && (spec.Type == "string" || spec.Type == "" || spec.Type == "any") {
			inputs[name] = request
		}
	}
	return inputs
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

func score(words []string, text string) int {
	haystack := tokenize(strings.NewReplacer("_", " ", "-", " ").Replace(text))
	n := 0
	for _, w := range words {
		if slices.Contains(haystack, w) {
			n++
		}
	}
	return n
}
