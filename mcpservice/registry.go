package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-todo/mcp"
)

var (
	// ErrDuplicateRegistration is returned when a handler of the same kind is
	// already registered under the same key.
	ErrDuplicateRegistration = errors.New("duplicate registration")
	// ErrInvalidHandler is returned for nil handlers or empty keys.
	ErrInvalidHandler = errors.New("invalid handler")
	// ErrToolNotFound is returned by CallTool for an unknown tool name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrResourceNotFound is returned by ReadResource when no resource or
	// template matches the URI.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrPromptNotFound is returned by GetPrompt for an unknown prompt name.
	ErrPromptNotFound = errors.New("prompt not found")
)

// Registry holds the handlers a server exposes. Listing preserves
// registration order. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	keys      map[Kind]map[string]struct{}
	tools     []*Tool
	resources []*Resource
	templates []*ResourceTemplate
	prompts   []*Prompt

	pageSize int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPageSize sets the list page size. Non-positive values are ignored.
func WithPageSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		keys:     make(map[Kind]map[string]struct{}),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds h. Registering the same (kind, key) twice fails with
// ErrDuplicateRegistration and leaves the registry unchanged.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidHandler)
	}
	key := h.Key()
	if key == "" {
		return fmt.Errorf("%w: %s has an empty key", ErrInvalidHandler, h.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := r.keys[h.Kind()]
	if seen == nil {
		seen = make(map[string]struct{})
		r.keys[h.Kind()] = seen
	}
	if _, dup := seen[key]; dup {
		return fmt.Errorf("%w: %s %q", ErrDuplicateRegistration, h.Kind(), key)
	}

	switch v := h.(type) {
	case *Tool:
		r.tools = append(r.tools, v)
	case *Resource:
		r.resources = append(r.resources, v)
	case *ResourceTemplate:
		r.templates = append(r.templates, v)
	case *Prompt:
		r.prompts = append(r.prompts, v)
	default:
		return fmt.Errorf("%w: unsupported handler %T", ErrInvalidHandler, h)
	}
	seen[key] = struct{}{}
	return nil
}

// MustRegister registers every handler and panics on the first error.
func (r *Registry) MustRegister(hs ...Handler) {
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

// Handlers returns every registered handler, tools first, then resources,
// templates and prompts, each in registration order.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.tools)+len(r.resources)+len(r.templates)+len(r.prompts))
	for _, t := range r.tools {
		out = append(out, t)
	}
	for _, res := range r.resources {
		out = append(out, res)
	}
	for _, t := range r.templates {
		out = append(out, t)
	}
	for _, p := range r.prompts {
		out = append(out, p)
	}
	return out
}

// ListTools returns a page of tool descriptors.
func (r *Registry) ListTools(ctx context.Context, cursor string) (Page[mcp.Tool], error) {
	r.mu.RLock()
	all := make([]mcp.Tool, len(r.tools))
	for i, t := range r.tools {
		all[i] = t.descriptor
	}
	r.mu.RUnlock()
	return paginate(all, cursor, r.pageSize), nil
}

// ListResources returns a page of static resource descriptors.
func (r *Registry) ListResources(ctx context.Context, cursor string) (Page[mcp.Resource], error) {
	r.mu.RLock()
	all := make([]mcp.Resource, len(r.resources))
	for i, res := range r.resources {
		all[i] = res.descriptor
	}
	r.mu.RUnlock()
	return paginate(all, cursor, r.pageSize), nil
}

// ListResourceTemplates returns a page of resource template descriptors.
func (r *Registry) ListResourceTemplates(ctx context.Context, cursor string) (Page[mcp.ResourceTemplate], error) {
	r.mu.RLock()
	all := make([]mcp.ResourceTemplate, len(r.templates))
	for i, t := range r.templates {
		all[i] = t.descriptor
	}
	r.mu.RUnlock()
	return paginate(all, cursor, r.pageSize), nil
}

// ListPrompts returns a page of prompt descriptors.
func (r *Registry) ListPrompts(ctx context.Context, cursor string) (Page[mcp.Prompt], error) {
	r.mu.RLock()
	all := make([]mcp.Prompt, len(r.prompts))
	for i, p := range r.prompts {
		all[i] = p.descriptor
	}
	r.mu.RUnlock()
	return paginate(all, cursor, r.pageSize), nil
}

// CallTool dispatches to the named tool.
func (r *Registry) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	var tool *Tool
	for _, t := range r.tools {
		if t.descriptor.Name == name {
			tool = t
			break
		}
	}
	r.mu.RUnlock()
	if tool == nil {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return tool.Call(ctx, args)
}

// ReadResource reads uri from the static resource registered under it or,
// failing that, from the first template that matches it.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	r.mu.RLock()
	var (
		fn   ResourceFunc
		vars map[string]string
	)
	for _, res := range r.resources {
		if res.descriptor.URI == uri {
			fn = res.read
			break
		}
	}
	if fn == nil {
		for _, t := range r.templates {
			if v, ok := t.Match(uri); ok {
				fn, vars = t.read, v
				break
			}
		}
	}
	r.mu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	contents, err := fn(ctx, &ResourceRequest{URI: uri, Vars: vars})
	if err != nil {
		return nil, err
	}
	if contents == nil {
		contents = []mcp.ResourceContents{}
	}
	return &mcp.ReadResourceResult{Contents: contents}, nil
}

// GetPrompt materializes the named prompt.
func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	r.mu.RLock()
	var prompt *Prompt
	for _, p := range r.prompts {
		if p.descriptor.Name == name {
			prompt = p
			break
		}
	}
	r.mu.RUnlock()
	if prompt == nil {
		return nil, fmt.Errorf("%w: %q", ErrPromptNotFound, name)
	}
	return prompt.Get(ctx, args)
}
