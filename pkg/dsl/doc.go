/*
Package dsl builds flows in Go instead of YAML.

The builder is fluent and keeps declaration order, which is also the
tie-break order of the scheduler:

	b := dsl.New("review").Inputs("topic", "string")

	b.Add("draft").
		Type("echo-agent").
		Input("${input.topic}").
		Go("publish")

	b.Add("publish").
		Type("passthrough").
		Input("${draft.text}")

	spec := b.Spec()          // *domain.FlowSpec
	loader, err := b.Build()  // *memory.Loader serving the flow by name
*/
package dsl
