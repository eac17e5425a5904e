package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// TextResponse ends the run with a plain reply.
type TextResponse struct{}

// TextResponseSpec registers text_response.
func TextResponseSpec() ports.Spec {
	return ports.Spec{
		Descriptor: (&TextResponse{}).Descriptor(),
		New: func(cfg ports.Config) (ports.Capability, error) {
			if err := ports.DecodeConfig(cfg, &struct{}{}); err != nil {
				return nil, err
			}
			return &TextResponse{}, nil
		},
	}
}

func (t *TextResponse) Descriptor() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "text_response",
		Description: "End the conversation with a direct text reply to the user.",
		Inputs: map[string]domain.InputSpec{
			"text": {Type: "string", Default: "", Description: "The reply. Empty replies restate the request."},
		},
		Terminal:       true,
		StatusTemplate: "Writing a response...",
	}
}

func (t *TextResponse) Execute(_ context.Context, view ports.RunView, inputs map[string]any, _ ports.Handles) ports.Stream {
	text, _ := inputs["text"].(string)
	if text == "" {
		text = fmt.Sprintf("You asked: %s", view.Request())
	}
	return ports.Emit(domain.Text(text))
}

// CitedSummarizer ends the run with a summary of the Environment, citing the
// tool and position each line came from.
type CitedSummarizer struct {
	MaxItems int `mapstructure:"max_items"`
}

// CitedSummarizerSpec registers cited_summarizer.
func CitedSummarizerSpec() ports.Spec {
	return ports.Spec{
		Descriptor: (&CitedSummarizer{}).Descriptor(),
		New: func(cfg ports.Config) (ports.Capability, error) {
			c := &CitedSummarizer{MaxItems: 10}
			if err := ports.DecodeConfig(cfg, c); err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

func (c *CitedSummarizer) Descriptor() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:           "cited_summarizer",
		Description:    "Summarise the information gathered so far, with citations, and end the conversation.",
		Terminal:       true,
		StatusTemplate: "Summarising with citations...",
	}
}

// Available requires at least one gathered Result.
func (c *CitedSummarizer) Available(_ context.Context, view ports.RunView, _ ports.Handles) (bool, error) {
	return view.Environment().Len() > 0, nil
}

func (c *CitedSummarizer) Execute(_ context.Context, view ports.RunView, _ map[string]any, _ ports.Handles) ports.Stream {
	env := view.Environment()
	var lines []string
	for _, tool := range env.Tools() {
		for _, res := range env.Results(tool) {
			for i, obj := range res.Objects {
				if c.MaxItems > 0 && len(lines) >= c.MaxItems {
					break
				}
				lines = append(lines, fmt.Sprintf("- %s [%s#%d]", describeObject(obj), tool, i+1))
			}
		}
	}
	return ports.Emit(domain.Text(strings.Join(lines, "\n")))
}

// Echo repeats its input as a Result. It never ends the run.
type Echo struct{}

// EchoSpec registers echo.
func EchoSpec() ports.Spec {
	return ports.Spec{
		Descriptor: (&Echo{}).Descriptor(),
		New:        func(ports.Config) (ports.Capability, error) { return &Echo{}, nil },
	}
}

func (e *Echo) Descriptor() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "echo",
		Description: "Repeat the given text back.",
		Inputs: map[string]domain.InputSpec{
			"text": {Type: "string", Required: true},
		},
	}
}

func (e *Echo) Execute(_ context.Context, _ ports.RunView, inputs map[string]any, _ ports.Handles) ports.Stream {
	return ports.Emit(
		domain.Text(fmt.Sprint(inputs["text"])),
		domain.ResultEvent(domain.Result{Type: "text", Objects: []map[string]any{{"text": inputs["text"]}}}),
	)
}
