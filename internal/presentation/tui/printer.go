package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/muesli/termenv"
)

// Printer writes run events to a terminal.
// In rich mode Text events are rendered as markdown and status lines are
// coloured; otherwise everything is plain text.
type Printer struct {
	w       io.Writer
	rich    bool
	render  func(string) (string, error)
	profile termenv.Profile
	// Verbose also prints Result payloads.
	Verbose bool
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, rich bool) *Printer {
	p := &Printer{w: w, rich: rich}
	if rich {
		p.render = NewRenderer()
		p.profile = termenv.ColorProfile()
	}
	return p
}

func (p *Printer) style(s, color string) string {
	if !p.rich {
		return s
	}
	return termenv.String(s).Foreground(p.profile.Color(color)).String()
}

// Print writes one event.
func (p *Printer) Print(ev domain.Event) {
	switch ev.Kind {
	case domain.EventStatus:
		fmt.Fprintln(p.w, p.style("» "+ev.Message, "#9ca3af"))
	case domain.EventText:
		text := ev.Message
		if p.render != nil {
			if out, err := p.render(text); err == nil {
				text = strings.TrimRight(out, "\n")
			}
		}
		fmt.Fprintln(p.w, text)
	case domain.EventResult:
		p.printResult(ev)
	case domain.EventError:
		label := "error"
		if ev.Tool != "" {
			label = ev.Tool + " failed"
		}
		fmt.Fprintln(p.w, p.style(fmt.Sprintf("✗ %s: %s", label, ev.Message), "#ef4444"))
	}
}

func (p *Printer) printResult(ev domain.Event) {
	if ev.Result == nil {
		return
	}
	name := ev.Result.Name
	if name == "" {
		name = ev.Tool
	}
	fmt.Fprintln(p.w, p.style(fmt.Sprintf("• %s: %d object(s)", name, len(ev.Result.Objects)), "#60a5fa"))
	if !p.Verbose {
		return
	}
	data, err := json.MarshalIndent(ev.Result.Objects, "  ", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(p.w, "  %s\n", data)
}

// Summary writes the outcome of a finished run.
func (p *Printer) Summary(state *domain.RunState) {
	tools := state.ToolSequence()
	path := "(none)"
	if len(tools) > 0 {
		path = strings.Join(tools, " → ")
	}

	color := "#22c55e"
	if state.Status != domain.StatusTerminated {
		color = "#f59e0b"
	}
	fmt.Fprintln(p.w, p.style(fmt.Sprintf("[%s] %d step(s): %s", state.Status, state.Step, path), color))
	if state.Err != nil {
		fmt.Fprintln(p.w, p.style("  "+state.Err.Error(), "#ef4444"))
	}
}
