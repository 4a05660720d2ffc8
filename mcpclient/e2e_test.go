package mcpclient_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeshaw/envdecode"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ggoodman/mcp-todo/internal/app"
	"github.com/ggoodman/mcp-todo/mcpclient"
)

// The test binary doubles as the server: with ENTRYPOINT=todoServerMain it
// runs the server main instead of the tests.
func TestMain(m *testing.M) {
	switch os.Getenv("ENTRYPOINT") {
	case "todoServerMain":
		os.Exit(app.Main(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
	case "trailingOutputMain":
		trailingOutputMain()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// serverEnv lets the suite run against another server binary.
type serverEnv struct {
	Command string `env:"MCP_SERVER_COMMAND"`
	Start   string `env:"MCP_SERVER_START"`
}

func serverCommand(t *testing.T) (string, []string, []string) {
	t.Helper()
	var env serverEnv
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		t.Fatalf("decode server env: %v", err)
	}
	if env.Command != "" {
		var args []string
		if env.Start != "" {
			args = []string{env.Start}
		}
		return env.Command, args, nil
	}
	return os.Args[0], []string{"--store", "memory", "--log-level", "warn"}, []string{"ENTRYPOINT=todoServerMain", "TODO_MCP_CONFIG="}
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(tWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// tWriter routes log output through t.Log.
type tWriter struct{ t *testing.T }

func (w tWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func connect(t *testing.T) *mcpclient.Client {
	t.Helper()
	command, args, env := serverCommand(t)
	c := mcpclient.New(command, args,
		mcpclient.WithEnv(env...),
		mcpclient.WithLogger(testLogger(t)),
		mcpclient.WithStderr(tWriter{t}),
		mcpclient.WithShutdownTimeout(2*time.Second),
	)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Disconnect(context.Background()); err != nil {
			t.Errorf("Disconnect: %v", err)
		}
	})
	return c
}

func TestE2E_Capabilities(t *testing.T) {
	c := connect(t)
	ctx := t.Context()

	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var toolNames []string
	for _, tool := range tools.Tools {
		toolNames = append(toolNames, tool.Name)
	}
	for _, want := range []string{"createTodo", "completeTodo", "deleteTodo"} {
		if !slices.Contains(toolNames, want) {
			t.Errorf("missing tool %s in %v", want, toolNames)
		}
	}

	templates, err := c.ListResourceTemplates(ctx)
	if err != nil {
		t.Fatalf("ListResourceTemplates: %v", err)
	}
	var uris []string
	for _, rt := range templates.ResourceTemplates {
		if rt.URITemplate == "todos/{id}" {
			uris = append(uris, rt.URITemplate)
		}
	}
	if len(uris) != 1 {
		t.Errorf("expected exactly one todos/{id} template, got %+v", templates.ResourceTemplates)
	}

	prompts, err := c.ListPrompts(ctx)
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	var promptNames []string
	for _, p := range prompts.Prompts {
		promptNames = append(promptNames, p.Name)
	}
	for _, want := range []string{"planDay", "prioritize"} {
		if !slices.Contains(promptNames, want) {
			t.Errorf("missing prompt %s in %v", want, promptNames)
		}
	}

	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestE2E_CreateTodo(t *testing.T) {
	c := connect(t)
	res, err := c.CallTool(t.Context(), "createTodo", map[string]any{"title": "Test todo from MCP", "priority": "high"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || len(res.Content) == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "todo") {
		t.Fatalf("result should confirm todo creation: %q", res.Content[0].Text)
	}
}

func TestE2E_GetTodoResource(t *testing.T) {
	c := connect(t)
	ctx := t.Context()

	res, err := c.ReadResource(ctx, "todos/test123", map[string]any{})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(res.Contents) == 0 || !strings.Contains(res.Contents[0].Text, "not found") {
		t.Fatalf("expected a not-found read, got %+v", res)
	}

	created, err := c.CallTool(ctx, "createTodo", map[string]any{"title": "read me", "tags": []string{"e2e"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	id := idFrom(t, created.Content[0].Text)
	res, err = c.ReadResource(ctx, "todos/"+id, nil)
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	for _, want := range []string{"ID: " + id, "Title: read me", "Status: Pending", "Tags: e2e"} {
		if !strings.Contains(res.Contents[0].Text, want) {
			t.Errorf("missing %q in:\n%s", want, res.Contents[0].Text)
		}
	}
}

// idFrom extracts the id from a `... (ID: <id>)` tool result.
func idFrom(t *testing.T, text string) string {
	t.Helper()
	_, rest, ok := strings.Cut(text, "(ID: ")
	if !ok {
		t.Fatalf("no id in %q", text)
	}
	return strings.TrimSuffix(rest, ")")
}

func TestE2E_EveryToolAcceptsMinimalInput(t *testing.T) {
	c := connect(t)
	ctx := t.Context()

	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	for _, tool := range tools.Tools {
		t.Run(tool.Name, func(t *testing.T) {
			args := map[string]any{}
			if tool.Name != "createTodo" {
				created, err := c.CallTool(ctx, "createTodo", map[string]any{"title": "fixture for " + tool.Name})
				if err != nil || created.IsError {
					t.Fatalf("create fixture: %v %+v", err, created)
				}
				args["id"] = idFrom(t, created.Content[0].Text)
			} else {
				args["title"] = "minimal"
			}
			res, err := c.CallTool(ctx, tool.Name, args)
			if err != nil {
				t.Fatalf("CallTool(%s): %v", tool.Name, err)
			}
			if res.IsError {
				t.Fatalf("CallTool(%s) isError: %+v", tool.Name, res.Content)
			}
		})
	}
}

func TestE2E_DomainErrorsAreResults(t *testing.T) {
	c := connect(t)
	res, err := c.CallTool(t.Context(), "completeTodo", map[string]any{"id": "missing"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected isError for an unknown id, got %+v", res)
	}
	res, err = c.CallTool(t.Context(), "createTodo", map[string]any{"priority": "urgent"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected isError for invalid arguments, got %+v", res)
	}

	_, err = c.GetPrompt(t.Context(), "nope", nil)
	var re *mcpclient.RPCError
	if !errors.As(err, &re) {
		t.Fatalf("expected RPCError for an unknown prompt, got %v", err)
	}
}

func TestE2E_ConcurrentRequests(t *testing.T) {
	c := connect(t)
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			title := fmt.Sprintf("parallel %d", i)
			res, err := c.CallTool(ctx, "createTodo", map[string]any{"title": title})
			if err != nil {
				t.Errorf("CallTool(%s): %v", title, err)
				return
			}
			if !strings.Contains(res.Content[0].Text, `"`+title+`"`) {
				t.Errorf("response for %q carried %q", title, res.Content[0].Text)
			}
		})
	}
	wg.Wait()

	res, err := c.GetPrompt(ctx, "planDay", map[string]string{"userId": "user1"})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if got := strings.Count(res.Messages[0].Content.Text, "parallel "); got != 20 {
		t.Fatalf("expected 20 pending todos in the plan, got %d", got)
	}
}

func TestE2E_FullTest(t *testing.T) {
	c := connect(t)
	if err := mcpclient.RunFullTest(t.Context(), c, mcpclient.LogReporter{Logger: testLogger(t)}); err != nil {
		t.Fatalf("RunFullTest: %v", err)
	}
}

func TestE2E_RunClientTest(t *testing.T) {
	command, args, env := serverCommand(t)
	err := mcpclient.RunClientTest(t.Context(), command, args, mcpclient.LogReporter{Logger: testLogger(t)},
		mcpclient.WithEnv(env...),
		mcpclient.WithLogger(testLogger(t)),
		mcpclient.WithStderr(io.Discard),
	)
	if err != nil {
		t.Fatalf("RunClientTest: %v", err)
	}
}

func TestE2E_DisconnectLifecycle(t *testing.T) {
	c := connect(t)
	if err := c.Disconnect(t.Context()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(t.Context()); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if _, err := c.ListTools(t.Context()); !errors.Is(err, mcpclient.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	missing := mcpclient.New("/nonexistent/todo-mcp-server", nil, mcpclient.WithLogger(testLogger(t)))
	if err := missing.Connect(t.Context()); err == nil {
		t.Fatalf("expected Connect to fail for a missing binary")
	}
	if err := missing.Disconnect(t.Context()); err != nil {
		t.Fatalf("Disconnect after failed Connect: %v", err)
	}
}

// TestE2E_SDKClient checks the server against the official Go SDK client
// over a real subprocess.
func TestE2E_SDKClient(t *testing.T) {
	command, args, env := serverCommand(t)
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = tWriter{t}

	ctx := t.Context()
	client := sdk.NewClient(&sdk.Implementation{Name: "sdk-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, &sdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			t.Errorf("closing MCP connection: %v", err)
		}
	}()

	res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: "createTodo", Arguments: map[string]any{"title": "from sdk"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok || !strings.HasPrefix(text.Text, `Created todo: "from sdk"`) {
		t.Fatalf("unexpected content %#v", res.Content[0])
	}

	prompt, err := session.GetPrompt(ctx, &sdk.GetPromptParams{Name: "planDay", Arguments: map[string]string{"userId": "user1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(prompt.Messages) != 1 || prompt.Messages[0].Role != "user" {
		t.Fatalf("unexpected prompt %+v", prompt)
	}
}
