/*
Package dsl builds canopy decision trees in Go with a fluent builder, as an
alternative to a YAML tree file.

Example usage:

	b := dsl.New()

	b.Add("base").
		Root().
		Instruction("Choose a base-level task.").
		Use("text_response").
		Use("visualise")

	b.Add("search").
		Under("base").
		Describe("Search the knowledge base.").
		Use("query", dsl.Config(ports.Config{"summariser_in_tree": true})).
		Use("summarise_items", dsl.After("query"))

	router, err := b.Build(catalog.Builtin(), canopy.WithMaxSteps(8))
*/
package dsl
