package todomcp

import (
	"fmt"

	"github.com/ggoodman/mcp-todo/mcp"
	"github.com/ggoodman/mcp-todo/mcpservice"
	"github.com/ggoodman/mcp-todo/todo"
)

// TodoURITemplate addresses a single todo.
const TodoURITemplate = "todos/{id}"

// NewRegistry returns a new registry holding everything Register adds.
func NewRegistry(svc todo.Service, opts ...Option) (*mcpservice.Registry, error) {
	reg := mcpservice.NewRegistry()
	if err := Register(reg, svc, opts...); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds the createTodo, completeTodo and deleteTodo tools, the
// todos/{id} resource template, and the planDay and prioritize prompts to
// reg, in that order. It stops at the first registration error.
func Register(reg *mcpservice.Registry, svc todo.Service, opts ...Option) error {
	f := NewFunctions(svc, opts...)

	getTodo, err := mcpservice.NewResourceTemplate(TodoURITemplate, f.GetTodo,
		mcpservice.WithResourceName("getTodo"),
		mcpservice.WithResourceTitle("Todo Details"),
		mcpservice.WithResourceDescription("Get details of a specific todo by ID"),
		mcpservice.WithResourceMimeType("text/plain"),
		mcpservice.WithResourceTags("todos"),
	)
	if err != nil {
		return err
	}

	userArg := mcp.PromptArgument{Name: "userId", Description: "The user whose pending todos are used", Required: true}

	handlers := []mcpservice.Handler{
		mcpservice.NewTool("createTodo", f.CreateTodo,
			mcpservice.WithToolTitle("Create Todo"),
			mcpservice.WithToolDescription("Create a new todo item"),
			mcpservice.WithToolTags("todos"),
		),
		mcpservice.NewTool("completeTodo", f.CompleteTodo,
			mcpservice.WithToolTitle("Complete Todo"),
			mcpservice.WithToolDescription("Mark a todo as completed"),
			mcpservice.WithToolTags("todos"),
		),
		mcpservice.NewTool("deleteTodo", f.DeleteTodo,
			mcpservice.WithToolTitle("Delete Todo"),
			mcpservice.WithToolDescription("Delete a todo by ID"),
			mcpservice.WithToolTags("todos"),
		),
		getTodo,
		mcpservice.NewPrompt("planDay", []mcp.PromptArgument{userArg}, f.PlanDay,
			mcpservice.WithPromptTitle("Plan My Day"),
			mcpservice.WithPromptDescription("Generate a daily plan based on pending todos"),
			mcpservice.WithPromptTags("productivity", "planning"),
		),
		mcpservice.NewPrompt("prioritize", []mcp.PromptArgument{
			userArg,
			{Name: "focus", Description: "One of urgency, importance or quick-wins"},
		}, f.Prioritize,
			mcpservice.WithPromptTitle("Prioritize Todos"),
			mcpservice.WithPromptDescription("Help prioritize todos based on urgency, importance, or quick-wins"),
			mcpservice.WithPromptTags("productivity", "prioritization"),
		),
	}

	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return fmt.Errorf("register %s %q: %w", h.Kind(), h.Key(), err)
		}
	}
	return nil
}
