package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/ggoodman/mcp-todo/mcp"
)

func textResource(text string) ResourceFunc {
	return func(ctx context.Context, req *ResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{{URI: req.URI, MimeType: "text/plain", Text: text + req.Var("id")}}, nil
	}
}

func mustTemplate(t *testing.T, tmpl string, fn ResourceFunc) *ResourceTemplate {
	t.Helper()
	rt, err := NewResourceTemplate(tmpl, fn)
	if err != nil {
		t.Fatalf("NewResourceTemplate(%q): %v", tmpl, err)
	}
	return rt
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newGreetTool()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(newGreetTool())
	if !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got %v", err)
	}
	page, _ := r.ListTools(t.Context(), "")
	if len(page.Items) != 1 {
		t.Fatalf("duplicate must not be added, got %d tools", len(page.Items))
	}

	// Same key under a different kind is fine.
	p := NewPrompt("greet", nil, func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{mcp.UserText("hi")}}, nil
	})
	if err := r.Register(p); err != nil {
		t.Fatalf("prompt with tool's name: %v", err)
	}

	tmpl := mustTemplate(t, "todos/{id}", textResource("x"))
	if err := r.Register(tmpl); err != nil {
		t.Fatalf("template: %v", err)
	}
	if err := r.Register(mustTemplate(t, "todos/{id}", textResource("y"))); !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("expected duplicate template error, got %v", err)
	}
}

func TestRegistry_HandlersGroupedByKind(t *testing.T) {
	r := NewRegistry()
	p := NewPrompt("p", nil, func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{mcp.UserText("hi")}}, nil
	})
	r.MustRegister(p, mustTemplate(t, "todos/{id}", textResource("x")), newGreetTool())

	var got []string
	for _, h := range r.Handlers() {
		got = append(got, fmt.Sprintf("%s:%s", h.Kind(), h.Key()))
	}
	want := fmt.Sprintf("[%s:greet %s:todos/{id} %s:p]", KindTool, KindResourceTemplate, KindPrompt)
	if fmt.Sprint(got) != want {
		t.Fatalf("Handlers() = %v, want %s", got, want)
	}
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewRegistry().MustRegister(newGreetTool(), newGreetTool())
}

func TestRegistry_RejectsEmptyKey(t *testing.T) {
	tool := NewTool("", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[struct{}]) error { return nil })
	if err := NewRegistry().Register(tool); !errors.Is(err, ErrInvalidHandler) {
		t.Fatalf("expected ErrInvalidHandler, got %v", err)
	}
}

func TestRegistry_ListPreservesOrderAndPaginates(t *testing.T) {
	r := NewRegistry(WithPageSize(2))
	for i := range 5 {
		name := fmt.Sprintf("tool-%d", i)
		r.MustRegister(NewTool(name, func(ctx context.Context, w ToolResponseWriter, _ *ToolRequest[struct{}]) error { return nil }))
	}

	var names []string
	cursor := ""
	pages := 0
	for {
		page, err := r.ListTools(t.Context(), cursor)
		if err != nil {
			t.Fatalf("ListTools: %v", err)
		}
		pages++
		for _, tool := range page.Items {
			names = append(names, tool.Name)
		}
		cursor = page.Cursor()
		if cursor == "" {
			break
		}
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
	for i, n := range names {
		if want := fmt.Sprintf("tool-%d", i); n != want {
			t.Fatalf("position %d: got %s want %s", i, n, want)
		}
	}
}

func TestRegistry_ReadResource(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		NewResource("todos/index", textResource("index")),
		mustTemplate(t, "todos/{id}", textResource("todo:")),
	)

	res, err := r.ReadResource(t.Context(), "todos/index")
	if err != nil {
		t.Fatalf("static read: %v", err)
	}
	if res.Contents[0].Text != "index" {
		t.Fatalf("static resource should win over template, got %q", res.Contents[0].Text)
	}

	res, err = r.ReadResource(t.Context(), "todos/abc-123")
	if err != nil {
		t.Fatalf("template read: %v", err)
	}
	if got := res.Contents[0].Text; got != "todo:abc-123" {
		t.Fatalf("expected extracted id, got %q", got)
	}

	if _, err := r.ReadResource(t.Context(), "other/1"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	if _, err := r.ReadResource(t.Context(), "todos/"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("empty variable should not match, got %v", err)
	}
}

func TestRegistry_GetPrompt(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewPrompt("plan",
		[]mcp.PromptArgument{{Name: "userId", Required: true}, {Name: "focus"}},
		func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{mcp.UserText(args["userId"] + "/" + args["focus"])}}, nil
		},
		WithPromptDescription("plans"),
	))

	res, err := r.GetPrompt(t.Context(), "plan", map[string]string{"userId": "u1"})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if res.Description != "plans" {
		t.Fatalf("expected descriptor description, got %q", res.Description)
	}
	if got := res.Messages[0].Content.Text; got != "u1/" {
		t.Fatalf("unexpected message %q", got)
	}

	if _, err := r.GetPrompt(t.Context(), "plan", nil); !errors.Is(err, ErrInvalidPromptArguments) {
		t.Fatalf("expected ErrInvalidPromptArguments, got %v", err)
	}
	if _, err := r.GetPrompt(t.Context(), "nope", nil); !errors.Is(err, ErrPromptNotFound) {
		t.Fatalf("expected ErrPromptNotFound, got %v", err)
	}
}

func TestRegistry_CallUnknownTool(t *testing.T) {
	if _, err := NewRegistry().CallTool(t.Context(), "missing", nil); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestSlogLevelVarLogging_SetLevel(t *testing.T) {
	lv := new(slog.LevelVar)
	logging := NewSlogLevelVarLogging(lv)
	if err := logging.SetLevel(t.Context(), mcp.LoggingLevelWarning); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if lv.Level() != slog.LevelWarn {
		t.Fatalf("level = %v, want WARN", lv.Level())
	}
	if err := logging.SetLevel(t.Context(), "verbose"); !errors.Is(err, ErrInvalidLoggingLevel) {
		t.Fatalf("expected ErrInvalidLoggingLevel, got %v", err)
	}
	if lv.Level() != slog.LevelWarn {
		t.Fatalf("rejected level changed the LevelVar to %v", lv.Level())
	}
}
