package catalog_test

import (
	"testing"

	"github.com/aretw0/canopy/pkg/catalog"
	"github.com/aretw0/canopy/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBuiltin(t *testing.T) {
	c := catalog.Builtin()

	assert.Equal(t, []string{
		"aggregate", "cited_summarizer", "echo", "query", "summarise_items", "text_response", "visualise",
	}, c.Names())

	spec, ok := c.Lookup("query")
	require.True(t, ok)
	assert.Equal(t, "query", spec.Descriptor.Name)

	cat, _ := c.Category("summarise_items")
	assert.Equal(t, catalog.Postprocessing, cat)

	meta := c.Metadata()
	assert.True(t, meta["text_response"].Terminal)
}

func TestRegister_Duplicate(t *testing.T) {
	c := catalog.New()
	require.NoError(t, c.Register(tools.EchoSpec(), ""))
	assert.Error(t, c.Register(tools.EchoSpec(), catalog.Other))

	cat, _ := c.Category("echo")
	assert.Equal(t, catalog.Other, cat)
}

func TestCategorize(t *testing.T) {
	tests := map[string]catalog.Category{
		"mcp_weather_forecast": catalog.MCP,
		"web_search":           catalog.Retrieval,
		"summarise_items":      catalog.Postprocessing,
		"cited_summarizer":     catalog.Text,
		"plot_trend":           catalog.Visualization,
		"echo":                 catalog.Other,
	}
	for name, want := range tests {
		assert.Equal(t, want, catalog.Categorize(name), name)
	}
}

func TestDiscoveryYAML(t *testing.T) {
	out, err := catalog.Builtin().DiscoveryYAML()
	require.NoError(t, err)

	var doc map[string]map[string]map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))

	found := doc["discovered_tools"]
	assert.Contains(t, found, "retrieval")
	assert.NotContains(t, found, "mcp")
	assert.Equal(t, true, found["text"]["text_response"]["end"])
	assert.Equal(t, true, found["retrieval"]["query"]["available"])
}
