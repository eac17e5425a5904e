package tui_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aretw0/canopy/internal/presentation/tui"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := tui.NewPrinter(&buf, false)

	p.Print(domain.Status("Searching..."))
	p.Print(domain.Text("**hello**"))
	p.Print(domain.ResultEvent(domain.Result{Name: "query", Objects: []map[string]any{{"a": 1}, {"a": 2}}}))
	p.Print(domain.Event{Kind: domain.EventError, Tool: "query", Message: "timeout"})

	out := buf.String()
	assert.Contains(t, out, "» Searching...")
	assert.Contains(t, out, "**hello**\n")
	assert.Contains(t, out, "• query: 2 object(s)")
	assert.NotContains(t, out, `"a": 1`)
	assert.Contains(t, out, "✗ query failed: timeout")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrinter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	p := tui.NewPrinter(&buf, false)
	p.Verbose = true
	p.Print(domain.ResultEvent(domain.Result{Name: "query", Objects: []map[string]any{{"a": 1}}}))
	assert.Contains(t, buf.String(), `"a": 1`)
}

func TestPrinter_Summary(t *testing.T) {
	var buf bytes.Buffer
	p := tui.NewPrinter(&buf, false)

	state := domain.NewRunState("r1", "base", "hi")
	state.RecordDecision(domain.DecisionEntry{NodeID: "base", ToolName: "echo"})
	state.RecordDecision(domain.DecisionEntry{NodeID: "base", ToolName: "text_response"})
	state.Step = 2
	state.Status = domain.StatusTerminated
	p.Summary(state)
	assert.Contains(t, buf.String(), "[terminated] 2 step(s): echo → text_response")

	buf.Reset()
	failed := domain.NewRunState("r2", "base", "hi")
	failed.Status = domain.StatusFailed
	failed.Err = errors.New("no tool available")
	p.Summary(failed)
	assert.Contains(t, buf.String(), "(none)")
	assert.Contains(t, buf.String(), "no tool available")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	tui.PrintBanner(&buf)
	assert.Contains(t, buf.String(), "|___/")
}
