package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-todo/internal/jsonrpc"
	"github.com/ggoodman/mcp-todo/mcp"
	"github.com/ggoodman/mcp-todo/mcpservice"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t       *testing.T
	h       *Handler
	stdinW  *io.PipeWriter
	stdoutR *bufio.Scanner
	outMu   sync.Mutex
	lines   []string
	served  chan error
}

func defaultInitializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
	}
}

func newHarness(t *testing.T, reg *mcpservice.Registry, opts ...Option) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	opts = append([]Option{WithIO(inR, outW), WithLogger(slog.Default()), WithUserProvider(StaticUserProvider("tester"))}, opts...)
	h := NewHandler(reg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, h: h, stdinW: inW, stdoutR: bufio.NewScanner(outR), served: make(chan error, 1)}

	go func() {
		th.served <- h.Serve(ctx)
	}()

	go func() {
		for th.stdoutR.Scan() {
			line := strings.TrimSpace(th.stdoutR.Text())
			th.t.Logf("OUT: %s", line)
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
		// allow goroutines to wind down
		time.Sleep(10 * time.Millisecond)
	})
	return th
}

// send writes a JSON-RPC request (as marshalled JSON + newline) to stdin.
func (th *testHarness) send(req *jsonrpc.Request) {
	th.t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		th.t.Fatalf("marshal request: %v", err)
	}
	th.sendRaw(string(b))
}

func (th *testHarness) sendRaw(line string) {
	th.t.Helper()
	if _, err := th.stdinW.Write([]byte(line + "\n")); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) call(id int64, method mcp.Method, params any) {
	th.t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), string(method), params)
	if err != nil {
		th.t.Fatalf("build request: %v", err)
	}
	th.send(req)
}

func (th *testHarness) notify(method mcp.Method, params any) {
	th.t.Helper()
	n, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		th.t.Fatalf("build notification: %v", err)
	}
	th.send(n)
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) nextMessage() *jsonrpc.AnyMessage {
	th.t.Helper()
	line, err := th.nextLine(2 * time.Second)
	if err != nil {
		th.t.Fatalf("%v", err)
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		th.t.Fatalf("decode output %q: %v", line, err)
	}
	return &msg
}

func (th *testHarness) expectResponse() *jsonrpc.Response {
	th.t.Helper()
	msg := th.nextMessage()
	if msg.Type() != "response" {
		th.t.Fatalf("expected response, got %s (%s)", msg.Type(), msg.Method)
	}
	return msg.AsResponse()
}

func (th *testHarness) initialize() mcp.InitializeResult {
	th.t.Helper()
	th.call(1, mcp.InitializeMethod, defaultInitializeRequest())
	resp := th.expectResponse()
	if resp.Error != nil {
		th.t.Fatalf("initialize error: %+v", resp.Error)
	}
	var res mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		th.t.Fatalf("decode initialize result: %v", err)
	}
	th.notify(mcp.InitializedNotificationMethod, nil)
	return res
}

func decodeResult[T any](t *testing.T, resp *jsonrpc.Response) T {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	var v T
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return v
}

type echoArgs struct {
	Message string `json:"message"`
}

func testRegistry(t *testing.T) *mcpservice.Registry {
	t.Helper()
	reg := mcpservice.NewRegistry()
	tmpl, err := mcpservice.NewResourceTemplate("notes/{id}", func(ctx context.Context, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{{URI: req.URI, MimeType: "text/plain", Text: "note " + req.Var("id")}}, nil
	})
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	reg.MustRegister(
		mcpservice.NewTool("echo", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			return w.AppendText(r.Args().Message)
		}, mcpservice.WithToolDescription("Echo a message back to the caller")),
		mcpservice.NewTool("whoami", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
			id, _ := mcpservice.UserIDFrom(ctx)
			return w.AppendText(id)
		}),
		tmpl,
		mcpservice.NewPrompt("greet", []mcp.PromptArgument{{Name: "name", Required: true}}, func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{mcp.UserText("Say hello to " + args["name"])}}, nil
		}),
	)
	return reg
}

func TestInitialize_NegotiatesVersionAndCapabilities(t *testing.T) {
	th := newHarness(t, testRegistry(t), WithLogging(mcpservice.NewSlogLevelVarLogging(new(slog.LevelVar))),
		WithServerInfo(mcp.ImplementationInfo{Name: "srv", Version: "1.2.3"}), WithInstructions("be nice"))

	res := th.initialize()
	if res.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("protocol version = %q", res.ProtocolVersion)
	}
	if res.Capabilities.Tools == nil || res.Capabilities.Resources == nil || res.Capabilities.Prompts == nil || res.Capabilities.Logging == nil {
		t.Fatalf("missing capabilities: %+v", res.Capabilities)
	}
	if res.ServerInfo.Name != "srv" || res.Instructions != "be nice" {
		t.Fatalf("unexpected server info %+v / %q", res.ServerInfo, res.Instructions)
	}

	// A second initialize with an older supported version is echoed back.
	th.call(2, mcp.InitializeMethod, mcp.InitializeRequest{ProtocolVersion: "2024-11-05"})
	if got := decodeResult[mcp.InitializeResult](t, th.expectResponse()).ProtocolVersion; got != "2024-11-05" {
		t.Fatalf("expected echoed version, got %q", got)
	}
	th.call(3, mcp.InitializeMethod, mcp.InitializeRequest{ProtocolVersion: "1999-01-01"})
	if got := decodeResult[mcp.InitializeResult](t, th.expectResponse()).ProtocolVersion; got != mcp.LatestProtocolVersion {
		t.Fatalf("expected latest version for unsupported request, got %q", got)
	}
}

func TestInitialize_NoLoggingCapabilityByDefault(t *testing.T) {
	th := newHarness(t, testRegistry(t))
	if res := th.initialize(); res.Capabilities.Logging != nil {
		t.Fatalf("logging should not be advertised")
	}
	th.call(2, mcp.LoggingSetLevelMethod, mcp.SetLevelRequest{Level: mcp.LoggingLevelDebug})
	if resp := th.expectResponse(); resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestToolsListAndCall(t *testing.T) {
	th := newHarness(t, testRegistry(t))
	th.initialize()

	th.call(2, mcp.ToolsListMethod, nil)
	list := decodeResult[mcp.ListToolsResult](t, th.expectResponse())
	if len(list.Tools) != 2 || list.Tools[0].Name != "echo" || list.Tools[1].Name != "whoami" {
		t.Fatalf("unexpected tools: %+v", list.Tools)
	}

	th.call(3, mcp.ToolsCallMethod, mcp.CallToolRequest{Name: "echo", Arguments: map[string]any{"message": "hi"}})
	res := decodeResult[mcp.CallToolResult](t, th.expectResponse())
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}

	th.call(4, mcp.ToolsCallMethod, mcp.CallToolRequest{Name: "echo", Arguments: map[string]any{"message": 3}})
	if res := decodeResult[mcp.CallToolResult](t, th.expectResponse()); !res.IsError {
		t.Fatalf("expected isError for invalid arguments")
	}

	th.call(5, mcp.ToolsCallMethod, mcp.CallToolRequest{Name: "missing"})
	if resp := th.expectResponse(); resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params for unknown tool, got %+v", resp.Error)
	}
}

func TestPeerUserOnContext(t *testing.T) {
	th := newHarness(t, testRegistry(t))
	th.initialize()
	th.call(2, mcp.ToolsCallMethod, mcp.CallToolRequest{Name: "whoami"})
	res := decodeResult[mcp.CallToolResult](t, th.expectResponse())
	if res.Content[0].Text != "tester" {
		t.Fatalf("expected static user on context, got %q", res.Content[0].Text)
	}
}

func TestResourcesAndPrompts(t *testing.T) {
	th := newHarness(t, testRegistry(t))
	th.initialize()

	th.call(2, mcp.ResourcesTemplatesListMethod, nil)
	tl := decodeResult[mcp.ListResourceTemplatesResult](t, th.expectResponse())
	if len(tl.ResourceTemplates) != 1 || tl.ResourceTemplates[0].URITemplate != "notes/{id}" {
		t.Fatalf("unexpected templates: %+v", tl.ResourceTemplates)
	}

	th.call(3, mcp.ResourcesListMethod, nil)
	if rl := decodeResult[mcp.ListResourcesResult](t, th.expectResponse()); len(rl.Resources) != 0 {
		t.Fatalf("expected no static resources, got %+v", rl.Resources)
	}

	th.call(4, mcp.ResourcesReadMethod, mcp.ReadResourceRequest{URI: "notes/42"})
	rr := decodeResult[mcp.ReadResourceResult](t, th.expectResponse())
	if len(rr.Contents) != 1 || rr.Contents[0].Text != "note 42" {
		t.Fatalf("unexpected contents: %+v", rr.Contents)
	}

	th.call(5, mcp.ResourcesReadMethod, mcp.ReadResourceRequest{URI: "elsewhere/1"})
	if resp := th.expectResponse(); resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeResourceNotFound {
		t.Fatalf("expected resource not found, got %+v", resp.Error)
	}

	th.call(6, mcp.PromptsGetMethod, mcp.GetPromptRequest{Name: "greet", Arguments: map[string]string{"name": "Ada"}})
	pr := decodeResult[mcp.GetPromptResult](t, th.expectResponse())
	if len(pr.Messages) != 1 || pr.Messages[0].Content.Text != "Say hello to Ada" {
		t.Fatalf("unexpected prompt: %+v", pr)
	}

	th.call(7, mcp.PromptsGetMethod, mcp.GetPromptRequest{Name: "greet"})
	if resp := th.expectResponse(); resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params for missing argument, got %+v", resp.Error)
	}
}

func TestMalformedAndUnknown(t *testing.T) {
	th := newHarness(t, testRegistry(t))

	th.sendRaw(`{"jsonrpc":"2.0","id":1,"method":`)
	resp := th.expectResponse()
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
	if !resp.ID.IsNil() {
		t.Fatalf("parse error must carry a null id, got %v", resp.ID)
	}

	th.call(2, "does/not/exist", nil)
	if resp := th.expectResponse(); resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}

	th.call(3, mcp.ToolsCallMethod, nil)
	if resp := th.expectResponse(); resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestConcurrentRequestsMayCompleteOutOfOrder(t *testing.T) {
	release := make(chan struct{})
	reg := mcpservice.NewRegistry()
	reg.MustRegister(mcpservice.NewTool("slow", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return w.AppendText("done")
	}))
	th := newHarness(t, reg)
	th.initialize()

	th.call(10, mcp.ToolsCallMethod, mcp.CallToolRequest{Name: "slow"})
	th.call(11, mcp.PingMethod, nil)

	first := th.expectResponse()
	if first.ID.String() != "11" {
		t.Fatalf("expected ping (11) to finish first, got id %s", first.ID)
	}
	close(release)
	second := th.expectResponse()
	if second.ID.String() != "10" {
		t.Fatalf("expected slow call (10), got id %s", second.ID)
	}
}

func TestCancelledRequestGetsNoResponse(t *testing.T) {
	started := make(chan struct{})
	reg := mcpservice.NewRegistry()
	reg.MustRegister(mcpservice.NewTool("wait", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	th := newHarness(t, reg)
	th.initialize()

	th.call(20, mcp.ToolsCallMethod, mcp.CallToolRequest{Name: "wait"})
	<-started
	th.notify(mcp.CancelledNotificationMethod, mcp.CancelledNotification{RequestID: 20, Reason: "user abort"})
	th.call(21, mcp.PingMethod, nil)

	resp := th.expectResponse()
	if resp.ID.String() != "21" {
		t.Fatalf("expected only the ping response, got id %s", resp.ID)
	}
	if line, err := th.nextLine(50 * time.Millisecond); err == nil {
		t.Fatalf("unexpected output after cancel: %s", line)
	}
}

func TestLogHandlerForwardsAfterSetLevel(t *testing.T) {
	th := newHarness(t, testRegistry(t), WithLogging(mcpservice.NewSlogLevelVarLogging(new(slog.LevelVar))))
	logger := slog.New(th.h.LogHandler(slog.NewTextHandler(io.Discard, nil)))
	th.initialize()

	logger.Info("before level set")
	th.call(2, mcp.LoggingSetLevelMethod, mcp.SetLevelRequest{Level: mcp.LoggingLevelWarning})
	if resp := th.expectResponse(); resp.Error != nil {
		t.Fatalf("setLevel: %+v", resp.Error)
	}

	logger.Info("below threshold")
	logger.Warn("disk almost full", slog.Int("pct", 93))

	msg := th.nextMessage()
	if msg.Method != string(mcp.LoggingMessageNotificationMethod) {
		t.Fatalf("expected log notification, got %s %s", msg.Type(), msg.Method)
	}
	var n struct {
		Level mcp.LoggingLevel `json:"level"`
		Data  map[string]any   `json:"data"`
	}
	if err := json.Unmarshal(msg.Params, &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if n.Level != mcp.LoggingLevelWarning || n.Data["message"] != "disk almost full" || n.Data["pct"] != float64(93) {
		t.Fatalf("unexpected notification: %+v", n)
	}

	th.call(3, mcp.LoggingSetLevelMethod, mcp.SetLevelRequest{Level: "loud"})
	if resp := th.expectResponse(); resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params for unknown level, got %+v", resp.Error)
	}
}

func TestServeEOFAndServeTwice(t *testing.T) {
	th := newHarness(t, testRegistry(t))
	th.initialize()
	_ = th.stdinW.Close()

	select {
	case err := <-th.served:
		if err != nil {
			t.Fatalf("Serve after EOF returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after EOF")
	}

	if err := th.h.Serve(context.Background()); !errors.Is(err, ErrAlreadyServing) {
		t.Fatalf("expected ErrAlreadyServing, got %v", err)
	}
}
