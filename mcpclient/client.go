package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-todo/internal/jsonrpc"
	"github.com/ggoodman/mcp-todo/internal/outbound"
	"github.com/ggoodman/mcp-todo/mcp"
)

// Client drives a single MCP server. The zero value is not usable; construct
// it with New.
type Client struct {
	log             *slog.Logger
	info            mcp.ImplementationInfo
	dialer          Dialer
	env             []string
	stderr          io.Writer
	shutdownTimeout time.Duration

	mu      sync.Mutex
	sess    *session
	pending *connectAttempt
}

// connectAttempt tracks a Connect that has not finished, so Disconnect can
// abort it.
type connectAttempt struct {
	cancel  context.CancelFunc
	done    chan struct{}
	aborted bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for transport failures and for server log
// notifications.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEnv appends variables to the server process environment.
func WithEnv(env ...string) Option {
	return func(c *Client) { c.env = append(c.env, env...) }
}

// WithStderr redirects the server process's stderr.
func WithStderr(w io.Writer) Option {
	return func(c *Client) { c.stderr = w }
}

// WithClientInfo sets the implementation info sent during initialize.
func WithClientInfo(info mcp.ImplementationInfo) Option {
	return func(c *Client) { c.info = info }
}

// WithDialer replaces subprocess spawning.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithShutdownTimeout bounds each stage of the server shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Client) { c.shutdownTimeout = d }
}

// New returns a disconnected client for the server started by command and
// args.
func New(command string, args []string, opts ...Option) *Client {
	c := &Client{
		log:             slog.Default(),
		info:            mcp.ImplementationInfo{Name: "mcp-todo-test-client", Version: "1.0.0"},
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &CommandDialer{
			Command:         command,
			Args:            args,
			Env:             c.env,
			Stderr:          c.stderr,
			ShutdownTimeout: c.shutdownTimeout,
		}
	}
	return c
}

// session is the state of one connection. A new one is created by every
// successful Connect.
type session struct {
	conn io.ReadWriteCloser
	disp *outbound.Dispatcher
	log  *slog.Logger

	writeMu sync.Mutex
	closing atomic.Bool
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	initResult *mcp.InitializeResult
}

func (s *session) Send(ctx context.Context, req *jsonrpc.Request) error {
	return s.write(req)
}

func (s *session) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

// readLoop consumes server output until the stream ends.
func (s *session) readLoop() {
	defer close(s.done)

	br := bufio.NewReader(s.conn)
	var cause error
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			s.handleLine(line)
		}
		if err != nil {
			cause = err
			break
		}
	}

	if !s.closing.Load() {
		s.log.Error("server process error", slog.Any("err", cause))
	}
	s.disp.Close(fmt.Errorf("%w: %w", ErrConnectionClosed, cause))
}

func (s *session) handleLine(line []byte) {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		s.log.Error("server process error", slog.Any("err", fmt.Errorf("malformed frame: %w", err)))
		return
	}
	switch msg.Type() {
	case "response":
		s.disp.OnResponse(msg.AsResponse())
	case "notification":
		req := msg.AsRequest()
		s.disp.OnNotification(req)
		if req.Method == string(mcp.LoggingMessageNotificationMethod) {
			s.relog(req.Params)
		}
	case "request":
		go s.answer(msg.AsRequest())
	}
}

// answer responds to server-initiated requests. Only ping is supported.
func (s *session) answer(req *jsonrpc.Request) {
	var resp *jsonrpc.Response
	if req.Method == string(mcp.PingMethod) {
		r, err := jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{})
		if err != nil {
			return
		}
		resp = r
	} else {
		resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
	if err := s.write(resp); err != nil {
		s.log.Debug("failed to answer server request", slog.String("method", req.Method), slog.Any("err", err))
	}
}

// relog forwards a server log notification to the client logger.
func (s *session) relog(params json.RawMessage) {
	var n mcp.LoggingMessageNotification
	if err := json.Unmarshal(params, &n); err != nil {
		return
	}
	level, ok := mcp.SlogLevel(n.Level)
	if !ok {
		level = slog.LevelInfo
	}
	msg := "server log"
	attrs := []slog.Attr{slog.String("source", "server")}
	if n.Logger != "" {
		attrs = append(attrs, slog.String("logger", n.Logger))
	}
	switch data := n.Data.(type) {
	case string:
		msg = data
	case map[string]any:
		if m, ok := data["message"].(string); ok {
			msg = m
			delete(data, "message")
		}
		for _, k := range slices.Sorted(maps.Keys(data)) {
			attrs = append(attrs, slog.Any(k, data[k]))
		}
	default:
		attrs = append(attrs, slog.Any("data", data))
	}
	s.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (s *session) close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		closed := make(chan error, 1)
		go func() { closed <- s.conn.Close() }()
		select {
		case s.closeErr = <-closed:
		case <-ctx.Done():
			s.closeErr = ctx.Err()
		}
		s.disp.Close(ErrConnectionClosed)
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	})
	return s.closeErr
}

// Connect starts the server and performs the initialize handshake. On any
// failure the server is shut down and the client stays disconnected. A
// Disconnect issued while Connect is in progress aborts it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil || c.pending != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	attempt := &connectAttempt{cancel: cancel, done: make(chan struct{})}
	c.pending = attempt
	c.mu.Unlock()

	defer close(attempt.done)
	defer cancel()

	s, err := c.open(ctx)

	c.mu.Lock()
	c.pending = nil
	if err == nil && attempt.aborted {
		err = ErrConnectionClosed
	}
	if err == nil {
		c.sess = s
	}
	c.mu.Unlock()

	if err != nil {
		if s != nil {
			shutdownCtx, cancelShutdown := c.shutdownContext(ctx)
			defer cancelShutdown()
			_ = s.close(shutdownCtx)
		}
		return fmt.Errorf("connect: %w", err)
	}
	c.log.Debug("connected",
		slog.String("server", s.initResult.ServerInfo.Name),
		slog.String("server_version", s.initResult.ServerInfo.Version),
		slog.String("protocol_version", s.initResult.ProtocolVersion),
	)
	return nil
}

// open dials the server and runs the handshake. When the handshake fails the
// session is returned with the error so the caller can shut it down.
func (c *Client) open(ctx context.Context) (*session, error) {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{conn: conn, log: c.log, done: make(chan struct{})}
	s.disp = outbound.New(s)
	go s.readLoop()

	res, err := c.handshake(ctx, s)
	if err != nil {
		return s, err
	}
	s.initResult = res
	return s, nil
}

func (c *Client) handshake(ctx context.Context, s *session) (*mcp.InitializeResult, error) {
	res, err := call[mcp.InitializeResult](ctx, s, mcp.InitializeMethod, mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      c.info,
	})
	if err != nil {
		return nil, err
	}
	if err := s.disp.Notify(ctx, string(mcp.InitializedNotificationMethod), nil); err != nil {
		return nil, err
	}
	return res, nil
}

// Disconnect shuts the server down. It is a no-op on a client that is not
// connected, including after a failed Connect, and may be called repeatedly.
// A Connect still in progress is aborted and awaited. A server that has
// already exited with a failure status is not an error.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	attempt := c.pending
	if attempt != nil {
		attempt.aborted = true
		attempt.cancel()
	}
	c.mu.Unlock()

	if attempt != nil {
		select {
		case <-attempt.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s == nil {
		return nil
	}

	err := s.close(ctx)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		c.log.Debug("server exited", slog.Any("err", err))
		return nil
	}
	return err
}

// ServerInfo returns the result of the initialize handshake, or nil when not
// connected.
func (c *Client) ServerInfo() *mcp.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.initResult
}

// shutdownContext outlives parent's cancellation and covers every stage of a
// subprocess shutdown.
func (c *Client) shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), 3*c.shutdownTimeout+time.Second)
}

func (c *Client) session() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

func call[T any](ctx context.Context, s *session, method mcp.Method, params any) (*T, error) {
	resp, err := s.disp.Call(ctx, string(method), params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &RPCError{Method: string(method), Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}
	return decodeResult[T](method, resp.Result)
}

func request[T any](ctx context.Context, c *Client, method mcp.Method, params any) (*T, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	return call[T](ctx, s, method, params)
}

// ListTools sends tools/list.
func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	return request[mcp.ListToolsResult](ctx, c, mcp.ToolsListMethod, mcp.ListToolsRequest{})
}

// CallTool sends tools/call. A nil args map is sent as an empty object. A
// result with IsError set is returned as is.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	return request[mcp.CallToolResult](ctx, c, mcp.ToolsCallMethod, mcp.CallToolRequest{Name: name, Arguments: args})
}

// ListResources sends resources/list.
func (c *Client) ListResources(ctx context.Context) (*mcp.ListResourcesResult, error) {
	return request[mcp.ListResourcesResult](ctx, c, mcp.ResourcesListMethod, mcp.ListResourcesRequest{})
}

// ListResourceTemplates sends resources/templates/list.
func (c *Client) ListResourceTemplates(ctx context.Context) (*mcp.ListResourceTemplatesResult, error) {
	return request[mcp.ListResourceTemplatesResult](ctx, c, mcp.ResourcesTemplatesListMethod, mcp.ListResourceTemplatesRequest{})
}

// ReadResource sends resources/read.
func (c *Client) ReadResource(ctx context.Context, uri string, args map[string]any) (*mcp.ReadResourceResult, error) {
	return request[mcp.ReadResourceResult](ctx, c, mcp.ResourcesReadMethod, mcp.ReadResourceRequest{URI: uri, Arguments: args})
}

// ListPrompts sends prompts/list.
func (c *Client) ListPrompts(ctx context.Context) (*mcp.ListPromptsResult, error) {
	return request[mcp.ListPromptsResult](ctx, c, mcp.PromptsListMethod, mcp.ListPromptsRequest{})
}

// GetPrompt sends prompts/get.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return request[mcp.GetPromptResult](ctx, c, mcp.PromptsGetMethod, mcp.GetPromptRequest{Name: name, Arguments: args})
}

// Ping sends ping.
func (c *Client) Ping(ctx context.Context) error {
	_, err := request[mcp.EmptyResult](ctx, c, mcp.PingMethod, nil)
	return err
}
