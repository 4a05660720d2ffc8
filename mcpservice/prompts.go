package mcpservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-todo/mcp"
)

// ErrInvalidPromptArguments is returned by GetPrompt when a required
// argument is missing or empty.
var ErrInvalidPromptArguments = errors.New("invalid prompt arguments")

// PromptFunc materializes a prompt from its string arguments.
type PromptFunc func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error)

// PromptOption configures NewPrompt.
type PromptOption func(*promptConfig)

type promptConfig struct {
	title       string
	description string
	tags        []string
}

// WithPromptTitle sets the human readable title.
func WithPromptTitle(title string) PromptOption {
	return func(c *promptConfig) { c.title = title }
}

// WithPromptDescription sets the description used in listings.
func WithPromptDescription(desc string) PromptOption {
	return func(c *promptConfig) { c.description = desc }
}

// WithPromptTags attaches tags advertised under _meta.tags.
func WithPromptTags(tags ...string) PromptOption {
	return func(c *promptConfig) { c.tags = append(c.tags, tags...) }
}

// Prompt is the prompt variant of Handler.
type Prompt struct {
	descriptor mcp.Prompt
	tags       []string
	get        PromptFunc
}

// NewPrompt constructs a Prompt that declares args.
func NewPrompt(name string, args []mcp.PromptArgument, fn PromptFunc, opts ...PromptOption) *Prompt {
	cfg := promptConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Prompt{
		descriptor: mcp.Prompt{
			Name:        name,
			Title:       cfg.title,
			Description: cfg.description,
			Arguments:   append([]mcp.PromptArgument(nil), args...),
			Meta:        tagsMeta(cfg.tags),
		},
		tags: cfg.tags,
		get:  fn,
	}
}

func (p *Prompt) Kind() Kind     { return KindPrompt }
func (p *Prompt) Key() string    { return p.descriptor.Name }
func (p *Prompt) Tags() []string { return p.tags }
func (p *Prompt) sealed()        {}

// Descriptor returns the listing entry for the prompt.
func (p *Prompt) Descriptor() mcp.Prompt { return p.descriptor }

// Get checks required arguments and runs the prompt function.
func (p *Prompt) Get(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	for _, a := range p.descriptor.Arguments {
		if a.Required && args[a.Name] == "" {
			return nil, fmt.Errorf("%w: %q requires argument %q", ErrInvalidPromptArguments, p.descriptor.Name, a.Name)
		}
	}
	if args == nil {
		args = map[string]string{}
	}
	res, err := p.get(ctx, args)
	if err != nil {
		return nil, err
	}
	if res.Description == "" {
		res.Description = p.descriptor.Description
	}
	return res, nil
}
