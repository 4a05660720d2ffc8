package mcpservice

import (
	"context"
	"fmt"

	"github.com/ggoodman/mcp-todo/mcp"
	"github.com/yosida95/uritemplate/v3"
)

// ResourceRequest describes a resource read routed to a handler. Vars holds
// the variables extracted from the URI when the handler is a template.
type ResourceRequest struct {
	URI  string
	Vars map[string]string
}

// Var returns the named template variable, or "" when absent.
func (r *ResourceRequest) Var(name string) string {
	return r.Vars[name]
}

// ResourceFunc produces the contents of a resource.
type ResourceFunc func(ctx context.Context, req *ResourceRequest) ([]mcp.ResourceContents, error)

// ResourceOption configures NewResource and NewResourceTemplate.
type ResourceOption func(*resourceConfig)

type resourceConfig struct {
	name        string
	title       string
	description string
	mimeType    string
	tags        []string
}

// WithResourceName sets the programmatic name. It defaults to the URI or
// URI template.
func WithResourceName(name string) ResourceOption {
	return func(c *resourceConfig) { c.name = name }
}

// WithResourceTitle sets the human readable title.
func WithResourceTitle(title string) ResourceOption {
	return func(c *resourceConfig) { c.title = title }
}

// WithResourceDescription sets the description used in listings.
func WithResourceDescription(desc string) ResourceOption {
	return func(c *resourceConfig) { c.description = desc }
}

// WithResourceMimeType sets the advertised mime type.
func WithResourceMimeType(mimeType string) ResourceOption {
	return func(c *resourceConfig) { c.mimeType = mimeType }
}

// WithResourceTags attaches tags advertised under _meta.tags.
func WithResourceTags(tags ...string) ResourceOption {
	return func(c *resourceConfig) { c.tags = append(c.tags, tags...) }
}

func buildResourceConfig(key string, opts []ResourceOption) resourceConfig {
	cfg := resourceConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = key
	}
	return cfg
}

// Resource is the static resource variant of Handler: one fixed URI.
type Resource struct {
	descriptor mcp.Resource
	tags       []string
	read       ResourceFunc
}

// NewResource constructs a Resource served at uri.
func NewResource(uri string, fn ResourceFunc, opts ...ResourceOption) *Resource {
	cfg := buildResourceConfig(uri, opts)
	return &Resource{
		descriptor: mcp.Resource{
			URI:         uri,
			Name:        cfg.name,
			Title:       cfg.title,
			Description: cfg.description,
			MimeType:    cfg.mimeType,
			Meta:        tagsMeta(cfg.tags),
		},
		tags: cfg.tags,
		read: fn,
	}
}

func (r *Resource) Kind() Kind     { return KindResource }
func (r *Resource) Key() string    { return r.descriptor.URI }
func (r *Resource) Tags() []string { return r.tags }
func (r *Resource) sealed()        {}

// Descriptor returns the listing entry for the resource.
func (r *Resource) Descriptor() mcp.Resource { return r.descriptor }

// ResourceTemplate is the templated resource variant of Handler. It serves
// every URI matching an RFC 6570 template.
type ResourceTemplate struct {
	descriptor mcp.ResourceTemplate
	tags       []string
	tmpl       *uritemplate.Template
	read       ResourceFunc
}

// NewResourceTemplate constructs a ResourceTemplate. It returns an error when
// the template does not parse.
func NewResourceTemplate(uriTemplate string, fn ResourceFunc, opts ...ResourceOption) (*ResourceTemplate, error) {
	tmpl, err := uritemplate.New(uriTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse uri template %q: %w", uriTemplate, err)
	}
	cfg := buildResourceConfig(uriTemplate, opts)
	return &ResourceTemplate{
		descriptor: mcp.ResourceTemplate{
			URITemplate: uriTemplate,
			Name:        cfg.name,
			Title:       cfg.title,
			Description: cfg.description,
			MimeType:    cfg.mimeType,
			Meta:        tagsMeta(cfg.tags),
		},
		tags: cfg.tags,
		tmpl: tmpl,
		read: fn,
	}, nil
}

func (t *ResourceTemplate) Kind() Kind     { return KindResourceTemplate }
func (t *ResourceTemplate) Key() string    { return t.descriptor.URITemplate }
func (t *ResourceTemplate) Tags() []string { return t.tags }
func (t *ResourceTemplate) sealed()        {}

// Descriptor returns the listing entry for the template.
func (t *ResourceTemplate) Descriptor() mcp.ResourceTemplate { return t.descriptor }

// Match reports whether uri matches the template and returns the extracted
// variables. Variables that match the empty string are treated as a miss.
func (t *ResourceTemplate) Match(uri string) (map[string]string, bool) {
	values := t.tmpl.Match(uri)
	if values == nil {
		return nil, false
	}
	vars := make(map[string]string, len(t.tmpl.Varnames()))
	for _, name := range t.tmpl.Varnames() {
		v := values.Get(name)
		if !v.Valid() {
			continue
		}
		s := v.String()
		if s == "" {
			return nil, false
		}
		vars[name] = s
	}
	return vars, true
}
