package mcpservice

// Kind identifies a Handler variant.
type Kind string

const (
	KindTool             Kind = "tool"
	KindResource         Kind = "resource"
	KindResourceTemplate Kind = "resourceTemplate"
	KindPrompt           Kind = "prompt"
)

// Handler is the sealed union of everything a Registry can hold: *Tool,
// *Resource, *ResourceTemplate and *Prompt.
type Handler interface {
	// Kind reports the variant.
	Kind() Kind
	// Key is the registration key: the tool or prompt name, the resource URI,
	// or the URI template.
	Key() string
	// Tags are free-form labels advertised in the descriptor's _meta.
	Tags() []string

	sealed()
}

func tagsMeta(tags []string) map[string]any {
	if len(tags) == 0 {
		return nil
	}
	return map[string]any{"tags": append([]string(nil), tags...)}
}
