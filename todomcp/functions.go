// Package todomcp adapts the todo RPC operations to MCP tools, resources and
// prompts. Every adapter calls exactly one todo.Service operation and only
// formats its result; ordering and filtering stay with the service.
package todomcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/mcp-todo/mcp"
	"github.com/ggoodman/mcp-todo/mcpservice"
	"github.com/ggoodman/mcp-todo/todo"
)

// CreateTodoArgs is the input of the createTodo tool.
type CreateTodoArgs struct {
	UserID      string        `json:"userId,omitempty" jsonschema_description:"Owner of the todo. Defaults to the connected user."`
	Title       string        `json:"title" jsonschema:"minLength=1" jsonschema_description:"Short summary of the task."`
	Description string        `json:"description,omitempty" jsonschema_description:"Longer free-form details."`
	Priority    todo.Priority `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high" jsonschema_description:"Defaults to medium."`
	DueDate     string        `json:"dueDate,omitempty" jsonschema_description:"RFC 3339 timestamp or YYYY-MM-DD date."`
	Tags        []string      `json:"tags,omitempty"`
}

// TodoIDArgs is the input of tools that address a single todo.
type TodoIDArgs struct {
	ID string `json:"id" jsonschema:"minLength=1" jsonschema_description:"The todo ID."`
}

// Functions holds the adapters. Construct it with NewFunctions.
type Functions struct {
	svc         todo.Service
	now         func() time.Time
	defaultUser string
}

// Option configures Functions and NewRegistry.
type Option func(*Functions)

// WithClock sets the time source used to decide what is overdue.
func WithClock(now func() time.Time) Option {
	return func(f *Functions) {
		if now != nil {
			f.now = now
		}
	}
}

// WithDefaultUser sets the owner used when neither the arguments nor the
// session name one.
func WithDefaultUser(userID string) Option {
	return func(f *Functions) {
		f.defaultUser = userID
	}
}

// NewFunctions returns adapters over svc.
func NewFunctions(svc todo.Service, opts ...Option) *Functions {
	f := &Functions{svc: svc, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Functions) userID(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id, ok := mcpservice.UserIDFrom(ctx); ok {
		return id
	}
	return f.defaultUser
}

func notFoundText(id string) string {
	return fmt.Sprintf("Todo \"%s\" not found.", id)
}

// domainFailure turns service errors the caller can act on into an isError
// result and returns nil. Anything else, including a failure to write the
// result, is returned for the caller to report as a server failure.
func domainFailure(w mcpservice.ToolResponseWriter, id string, err error) error {
	switch {
	case errors.Is(err, todo.ErrNotFound):
		w.SetError(true)
		return w.AppendText(notFoundText(id))
	case errors.Is(err, todo.ErrInvalidInput):
		w.SetError(true)
		return w.AppendText(err.Error())
	}
	return err
}

// CreateTodo invokes createTodo.
func (f *Functions) CreateTodo(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[CreateTodoArgs]) error {
	args := r.Args()
	out, err := f.svc.CreateTodo(ctx, todo.CreateTodoInput{
		UserID:      f.userID(ctx, args.UserID),
		Title:       args.Title,
		Description: args.Description,
		Priority:    args.Priority,
		DueDate:     args.DueDate,
		Tags:        args.Tags,
	})
	if err != nil {
		return domainFailure(w, "", err)
	}
	return w.AppendText(fmt.Sprintf("Created todo: \"%s\" (ID: %s)", out.Todo.Title, out.Todo.ID))
}

// CompleteTodo invokes completeTodo.
func (f *Functions) CompleteTodo(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[TodoIDArgs]) error {
	id := r.Args().ID
	out, err := f.svc.CompleteTodo(ctx, todo.CompleteTodoInput{ID: id})
	if err != nil {
		return domainFailure(w, id, err)
	}
	return w.AppendText(fmt.Sprintf("Completed todo: \"%s\" (ID: %s)", out.Todo.Title, out.Todo.ID))
}

// DeleteTodo invokes deleteTodo.
func (f *Functions) DeleteTodo(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[TodoIDArgs]) error {
	id := r.Args().ID
	out, err := f.svc.DeleteTodo(ctx, todo.DeleteTodoInput{ID: id})
	if err != nil {
		return domainFailure(w, id, err)
	}
	return w.AppendText(fmt.Sprintf("Deleted todo (ID: %s)", out.ID))
}

// GetTodo serves the todos/{id} resource. An unknown id is a successful read
// whose text says so.
func (f *Functions) GetTodo(ctx context.Context, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
	id := req.Var("id")
	out, err := f.svc.GetTodo(ctx, todo.GetTodoInput{ID: id})
	if err != nil {
		return nil, err
	}
	text := notFoundText(id)
	if out.Todo != nil {
		text = describeTodo(*out.Todo)
	}
	return []mcp.ResourceContents{{URI: req.URI, MimeType: "text/plain", Text: text}}, nil
}

func describeTodo(t todo.Todo) string {
	status := "Pending"
	if t.Completed {
		status = "Completed"
	}
	lines := []string{
		"ID: " + t.ID,
		"Title: " + t.Title,
		"Status: " + status,
		"Priority: " + string(t.Priority),
	}
	if t.Description != "" {
		lines = append(lines, "Description: "+t.Description)
	}
	if t.DueDate != "" {
		lines = append(lines, "Due: "+t.DueDate)
	}
	if len(t.Tags) > 0 {
		lines = append(lines, "Tags: "+strings.Join(t.Tags, ", "))
	}
	lines = append(lines,
		"Created: "+t.CreatedAt.UTC().Format(time.RFC3339),
		"Updated: "+t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return strings.Join(lines, "\n")
}

func (f *Functions) pendingTodos(ctx context.Context, userID string) ([]todo.Todo, error) {
	pending := false
	out, err := f.svc.ListTodos(ctx, todo.ListTodosInput{UserID: f.userID(ctx, userID), Completed: &pending})
	if err != nil {
		return nil, err
	}
	return out.Todos, nil
}

func userPrompt(text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{mcp.UserText(text)}}
}

// formatTodo renders one line of the planDay list.
func formatTodo(t todo.Todo) string {
	var b strings.Builder
	if t.Completed {
		b.WriteString("[x] ")
	} else {
		b.WriteString("[ ] ")
	}
	fmt.Fprintf(&b, "[%s] %s: %s", strings.ToUpper(string(t.Priority)), t.ID, t.Title)
	if t.DueDate != "" {
		fmt.Fprintf(&b, " (due: %s)", t.DueDate)
	}
	if len(t.Tags) > 0 {
		b.WriteString(" #" + strings.Join(t.Tags, " #"))
	}
	return b.String()
}

// PlanDay builds the planDay prompt from the user's pending todos.
func (f *Functions) PlanDay(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	todos, err := f.pendingTodos(ctx, args["userId"])
	if err != nil {
		return nil, err
	}
	if len(todos) == 0 {
		return userPrompt("I have no pending todos. Suggest some productive activities for today."), nil
	}

	lines := make([]string, len(todos))
	for i, t := range todos {
		lines[i] = formatTodo(t)
	}

	now := f.now()
	var overdue []string
	for _, t := range todos {
		if t.OverdueAt(now) {
			overdue = append(overdue, fmt.Sprintf("- %s (was due: %s)", t.Title, t.DueDate))
		}
	}
	overdueSection := ""
	if len(overdue) > 0 {
		overdueSection = fmt.Sprintf("\n\nOVERDUE (%d):\n%s", len(overdue), strings.Join(overdue, "\n"))
	}

	return userPrompt("Please help me plan my day. Here are my pending todos:\n\n" +
		strings.Join(lines, "\n") + overdueSection +
		"\n\nSuggest a prioritized schedule for today, considering urgency and importance."), nil
}

// Focus values understood by the prioritize prompt.
const (
	FocusUrgency    = "urgency"
	FocusImportance = "importance"
	FocusQuickWins  = "quick-wins"
)

func focusInstruction(focus string) string {
	switch focus {
	case FocusUrgency:
		return "Focus on time-sensitive items and deadlines."
	case FocusImportance:
		return "Focus on high-impact items regardless of deadlines."
	case FocusQuickWins:
		return "Focus on items that can be completed quickly to build momentum."
	default:
		return "Balance urgency and importance using the Eisenhower matrix."
	}
}

// Prioritize builds the prioritize prompt from the user's pending todos.
func (f *Functions) Prioritize(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	todos, err := f.pendingTodos(ctx, args["userId"])
	if err != nil {
		return nil, err
	}
	if len(todos) == 0 {
		return userPrompt("I have no pending todos to prioritize."), nil
	}

	lines := make([]string, len(todos))
	for i, t := range todos {
		var b strings.Builder
		fmt.Fprintf(&b, "- \"%s\" [priority: %s]", t.Title, t.Priority)
		if t.DueDate != "" {
			fmt.Fprintf(&b, " [due: %s]", t.DueDate)
		}
		tags := "none"
		if len(t.Tags) > 0 {
			tags = strings.Join(t.Tags, ", ")
		}
		fmt.Fprintf(&b, " [tags: %s]", tags)
		lines[i] = b.String()
	}

	return userPrompt("Help me prioritize these todos:\n\n" + strings.Join(lines, "\n") +
		"\n\n" + focusInstruction(args["focus"]) +
		"\n\nProvide a ranked list with reasoning for each position."), nil
}
