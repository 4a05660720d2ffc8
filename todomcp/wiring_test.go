package todomcp

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/ggoodman/mcp-todo/mcpservice"
)

func TestNewRegistry_Catalog(t *testing.T) {
	reg, _ := newFixture(t)
	ctx := t.Context()

	tools, _ := reg.ListTools(ctx, "")
	var names []string
	for _, tool := range tools.Items {
		names = append(names, tool.Name)
	}
	if !slices.Equal(names, []string{"createTodo", "completeTodo", "deleteTodo"}) {
		t.Fatalf("unexpected tools: %v", names)
	}

	var schema struct {
		Required   []string                  `json:"required"`
		Properties map[string]map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(tools.Items[0].InputSchema, &schema); err != nil {
		t.Fatalf("decode createTodo schema: %v", err)
	}
	if !slices.Equal(schema.Required, []string{"title"}) {
		t.Fatalf("createTodo should only require title, got %v", schema.Required)
	}
	if enum, _ := schema.Properties["priority"]["enum"].([]any); len(enum) != 3 {
		t.Fatalf("priority enum missing: %v", schema.Properties["priority"])
	}

	templates, _ := reg.ListResourceTemplates(ctx, "")
	if len(templates.Items) != 1 {
		t.Fatalf("expected exactly one template, got %d", len(templates.Items))
	}
	tmpl := templates.Items[0]
	if tmpl.URITemplate != "todos/{id}" || tmpl.Title != "Todo Details" || tmpl.Description != "Get details of a specific todo by ID" {
		t.Fatalf("unexpected template: %+v", tmpl)
	}

	resources, _ := reg.ListResources(ctx, "")
	if len(resources.Items) != 0 {
		t.Fatalf("expected no static resources, got %+v", resources.Items)
	}

	prompts, _ := reg.ListPrompts(ctx, "")
	if len(prompts.Items) != 2 || prompts.Items[0].Name != "planDay" || prompts.Items[1].Name != "prioritize" {
		t.Fatalf("unexpected prompts: %+v", prompts.Items)
	}
	tags, _ := prompts.Items[1].Meta["tags"].([]string)
	if !slices.Equal(tags, []string{"productivity", "prioritization"}) {
		t.Fatalf("unexpected prioritize tags: %v", prompts.Items[1].Meta)
	}
}

func TestRegister_TwiceIsDuplicate(t *testing.T) {
	reg, svc := newFixture(t)
	err := Register(reg, svc)
	if !errors.Is(err, mcpservice.ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got %v", err)
	}
}
