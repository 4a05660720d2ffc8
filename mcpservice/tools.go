package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-todo/mcp"
	validator "github.com/google/jsonschema-go/jsonschema"
	"github.com/invopop/jsonschema"
)

// ToolRequest is the container for tool call input. It is generic over the
// typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolFunc handles a call to a tool with typed arguments A, composing its
// output through w. A returned error is a failure of the server rather than
// of the operation; domain failures belong in w.SetError.
type ToolFunc[A any] func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error

// Tool is the tool variant of Handler.
type Tool struct {
	descriptor mcp.Tool
	tags       []string
	call       func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error)
}

func (t *Tool) Kind() Kind     { return KindTool }
func (t *Tool) Key() string    { return t.descriptor.Name }
func (t *Tool) Tags() []string { return t.tags }
func (t *Tool) sealed()        {}

// Descriptor returns the listing entry for the tool.
func (t *Tool) Descriptor() mcp.Tool { return t.descriptor }

// Call validates raw against the input schema, decodes it and runs the
// handler.
func (t *Tool) Call(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
	return t.call(ctx, raw)
}

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	tags                      []string
	allowAdditionalProperties bool
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolTitle sets the human readable title.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolTags attaches tags advertised under _meta.tags.
func WithToolTags(tags ...string) ToolOption {
	return func(c *toolConfig) { c.tags = append(c.tags, tags...) }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are
// allowed. When false (default) the schema sets additionalProperties=false.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a Tool with typed input A. It:
// - Reflects a JSON Schema from A using invopop/jsonschema
// - Resolves that schema for validation with google/jsonschema-go
// - Validates and decodes arguments on every call before invoking fn
//
// It panics if A does not reflect to a usable schema; that is a programming
// error caught at startup.
func NewTool[A any](name string, fn ToolFunc[A], opts ...ToolOption) *Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	raw, resolved, err := reflectInputSchema[A](cfg.allowAdditionalProperties)
	if err != nil {
		panic(fmt.Sprintf("mcpservice: tool %q: %v", name, err))
	}

	t := &Tool{
		descriptor: mcp.Tool{
			Name:        name,
			Title:       cfg.title,
			Description: cfg.description,
			InputSchema: raw,
			Meta:        tagsMeta(cfg.tags),
		},
		tags: cfg.tags,
	}

	t.call = func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
			args = json.RawMessage("{}")
		}
		var instance any
		if err := json.Unmarshal(args, &instance); err != nil {
			return Errorf("invalid arguments: %v", err), nil
		}
		if err := resolved.Validate(instance); err != nil {
			return Errorf("invalid arguments: %v", err), nil
		}
		var a A
		if err := json.Unmarshal(args, &a); err != nil {
			return Errorf("invalid arguments: %v", err), nil
		}
		w := newToolResponseWriter(ctx)
		if err := fn(ctx, w, &ToolRequest[A]{name: name, raw: args, args: a}); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return t
}

// reflectInputSchema reflects A into a JSON Schema object and resolves it for
// validation. Non-object types are rejected.
func reflectInputSchema[A any](allowAdditional bool) (json.RawMessage, *validator.Resolved, error) {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return nil, nil, fmt.Errorf("input type %T must reflect to an object schema", *new(A))
	}
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal input schema: %w", err)
	}

	var compiled validator.Schema
	if err := json.Unmarshal(raw, &compiled); err != nil {
		return nil, nil, fmt.Errorf("load input schema: %w", err)
	}
	resolved, err := compiled.Resolve(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return raw, resolved, nil
}
