package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-todo/internal/jsonrpc"
	"github.com/ggoodman/mcp-todo/internal/logctx"
	"github.com/ggoodman/mcp-todo/mcp"
	"github.com/ggoodman/mcp-todo/mcpservice"
)

// ErrAlreadyServing is returned when Serve is called more than once.
var ErrAlreadyServing = errors.New("stdio: handler already serving")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout. It identifies the peer using a UserProvider, which
// defaults to the current OS user ID.
//
// The handler is transport-only; it delegates all MCP semantics to the
// provided mcpservice.Registry.
type Handler struct {
	reg *mcpservice.Registry

	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider
	serverInfo   mcp.ImplementationInfo
	instructions string
	logging      mcpservice.LoggingCapability

	serving atomic.Bool
	done    atomic.Bool

	writeMu sync.Mutex

	mu       sync.Mutex
	inflight map[string]*inflightRequest
	session  *logctx.SessionData

	clientLevel atomic.Pointer[slog.Level]
}

type inflightRequest struct {
	cancel        context.CancelFunc
	peerCancelled atomic.Bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(reg *mcpservice.Registry, opts ...Option) *Handler {
	h := &Handler{
		reg:          reg,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
		serverInfo:   mcp.ImplementationInfo{Name: "mcp-todo", Version: "dev"},
		inflight:     make(map[string]*inflightRequest),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Logger returns the logger the handler writes to.
func (h *Handler) Logger() *slog.Logger { return h.l }

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. Serve is responsible
// for:
//   - JSON-RPC message framing (newline-delimited)
//   - the initialize/initialized lifecycle
//   - routing requests and notifications to the registry
//   - writing JSON-RPC responses to the writer
//
// Requests are handled concurrently, so responses may be written in a
// different order than the requests arrived. Serve returns once every
// in-flight request has been answered. It returns nil on EOF and the context
// error on cancellation.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	defer h.done.Store(true)

	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		return fmt.Errorf("stdio: resolve peer user: %w", err)
	}
	h.mu.Lock()
	h.session = &logctx.SessionData{UserID: userID}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReader(h.r)
		for {
			line, err := br.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	h.l.DebugContext(ctx, "stdio session started", slog.String("user_id", userID))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				h.l.DebugContext(ctx, "stdio input closed")
				return nil
			}
			return fmt.Errorf("stdio: read: %w", err)
		case line := <-lines:
			h.handleLine(ctx, &wg, line)
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, wg *sync.WaitGroup, line []byte) {
	line = bytes.TrimSpace(line)

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		code := jsonrpc.ErrorCodeInvalidRequest
		if !json.Valid(line) {
			code = jsonrpc.ErrorCodeParseError
		}
		h.l.WarnContext(ctx, "stdio: malformed message", slog.Any("err", err))
		h.writeMessage(ctx, jsonrpc.NewErrorResponse(nil, code, err.Error(), nil))
		return
	}

	switch msg.Type() {
	case "request":
		req := msg.AsRequest()
		reqCtx, cancel := context.WithCancel(ctx)
		ir := &inflightRequest{cancel: cancel}
		key := req.ID.String()
		h.mu.Lock()
		h.inflight[key] = ir
		h.mu.Unlock()

		wg.Go(func() {
			defer func() {
				h.mu.Lock()
				if h.inflight[key] == ir {
					delete(h.inflight, key)
				}
				h.mu.Unlock()
				cancel()
			}()
			h.handleRequest(reqCtx, ir, req)
		})
	case "notification":
		h.handleNotification(ctx, msg.AsRequest())
	default:
		// This transport never issues requests of its own.
		h.l.DebugContext(ctx, "stdio: ignoring response", slog.String("id", msg.ID.String()))
	}
}

func (h *Handler) requestContext(ctx context.Context, req *jsonrpc.Request, typ string) context.Context {
	h.mu.Lock()
	sess := h.session
	h.mu.Unlock()
	if sess != nil {
		ctx = mcpservice.WithUserID(ctx, sess.UserID)
		ctx = logctx.WithSessionData(ctx, sess)
	}
	return logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: typ})
}

func (h *Handler) handleRequest(ctx context.Context, ir *inflightRequest, req *jsonrpc.Request) {
	ctx = h.requestContext(ctx, req, "request")

	result, err := h.dispatch(ctx, req)
	if ir.peerCancelled.Load() {
		h.l.DebugContext(ctx, "stdio: request cancelled by peer")
		return
	}

	var resp *jsonrpc.Response
	if err != nil {
		rpcErr := h.toRPCError(ctx, err)
		resp = jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		resp, err = jsonrpc.NewResultResponse(req.ID, result)
		if err != nil {
			h.l.ErrorContext(ctx, "stdio: encode result", slog.Any("err", err))
			resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
		}
	}
	h.writeMessage(ctx, resp)
}

func (h *Handler) toRPCError(ctx context.Context, err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, mcpservice.ErrResourceNotFound):
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeResourceNotFound, Message: err.Error()}
	case errors.Is(err, mcpservice.ErrToolNotFound),
		errors.Is(err, mcpservice.ErrPromptNotFound),
		errors.Is(err, mcpservice.ErrInvalidPromptArguments),
		errors.Is(err, mcpservice.ErrInvalidLoggingLevel):
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: err.Error()}
	default:
		h.l.ErrorContext(ctx, "stdio: request failed", slog.Any("err", err))
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: "internal error"}
	}
}

func decodeParams[T any](req *jsonrpc.Request, required bool) (T, error) {
	var v T
	if len(req.Params) == 0 || bytes.Equal(req.Params, []byte("null")) {
		if required {
			return v, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "%s: missing params", req.Method)
		}
		return v, nil
	}
	if err := json.Unmarshal(req.Params, &v); err != nil {
		return v, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "%s: %v", req.Method, err)
	}
	return v, nil
}

func (h *Handler) dispatch(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		p, err := decodeParams[mcp.InitializeRequest](req, true)
		if err != nil {
			return nil, err
		}
		return h.initialize(ctx, p), nil

	case mcp.PingMethod:
		return mcp.EmptyResult{}, nil

	case mcp.ToolsListMethod:
		p, err := decodeParams[mcp.ListToolsRequest](req, false)
		if err != nil {
			return nil, err
		}
		page, err := h.reg.ListTools(ctx, p.Cursor)
		if err != nil {
			return nil, err
		}
		return mcp.ListToolsResult{Tools: page.Items, PaginatedResult: mcp.PaginatedResult{NextCursor: page.Cursor()}}, nil

	case mcp.ToolsCallMethod:
		p, err := decodeParams[mcp.CallToolRequestReceived](req, true)
		if err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "tools/call: missing tool name")
		}
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: p.Name})
		res, err := h.reg.CallTool(ctx, p.Name, p.Arguments)
		if err != nil {
			return nil, err
		}
		if res.IsError {
			h.l.InfoContext(ctx, "tool reported error")
		}
		return res, nil

	case mcp.ResourcesListMethod:
		p, err := decodeParams[mcp.ListResourcesRequest](req, false)
		if err != nil {
			return nil, err
		}
		page, err := h.reg.ListResources(ctx, p.Cursor)
		if err != nil {
			return nil, err
		}
		return mcp.ListResourcesResult{Resources: page.Items, PaginatedResult: mcp.PaginatedResult{NextCursor: page.Cursor()}}, nil

	case mcp.ResourcesTemplatesListMethod:
		p, err := decodeParams[mcp.ListResourceTemplatesRequest](req, false)
		if err != nil {
			return nil, err
		}
		page, err := h.reg.ListResourceTemplates(ctx, p.Cursor)
		if err != nil {
			return nil, err
		}
		return mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items, PaginatedResult: mcp.PaginatedResult{NextCursor: page.Cursor()}}, nil

	case mcp.ResourcesReadMethod:
		p, err := decodeParams[mcp.ReadResourceRequest](req, true)
		if err != nil {
			return nil, err
		}
		if p.URI == "" {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "resources/read: missing uri")
		}
		ctx = logctx.WithResourceData(ctx, &logctx.ResourceData{URI: p.URI})
		return h.reg.ReadResource(ctx, p.URI)

	case mcp.PromptsListMethod:
		p, err := decodeParams[mcp.ListPromptsRequest](req, false)
		if err != nil {
			return nil, err
		}
		page, err := h.reg.ListPrompts(ctx, p.Cursor)
		if err != nil {
			return nil, err
		}
		return mcp.ListPromptsResult{Prompts: page.Items, PaginatedResult: mcp.PaginatedResult{NextCursor: page.Cursor()}}, nil

	case mcp.PromptsGetMethod:
		p, err := decodeParams[mcp.GetPromptRequest](req, true)
		if err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "prompts/get: missing prompt name")
		}
		ctx = logctx.WithPromptData(ctx, &logctx.PromptData{Name: p.Name})
		return h.reg.GetPrompt(ctx, p.Name, p.Arguments)

	case mcp.LoggingSetLevelMethod:
		if h.logging == nil {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "method not found: %s", req.Method)
		}
		p, err := decodeParams[mcp.SetLevelRequest](req, true)
		if err != nil {
			return nil, err
		}
		lvl, ok := mcp.SlogLevel(p.Level)
		if !ok {
			return nil, fmt.Errorf("%w: %q", mcpservice.ErrInvalidLoggingLevel, p.Level)
		}
		if err := h.logging.SetLevel(ctx, p.Level); err != nil {
			return nil, err
		}
		h.clientLevel.Store(&lvl)
		return mcp.EmptyResult{}, nil

	default:
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "method not found: %s", req.Method)
	}
}

func (h *Handler) initialize(ctx context.Context, p mcp.InitializeRequest) mcp.InitializeResult {
	version := mcp.NegotiateProtocolVersion(p.ProtocolVersion)

	h.mu.Lock()
	sess := &logctx.SessionData{ProtocolVersion: version, ClientName: p.ClientInfo.Name}
	if h.session != nil {
		sess.UserID = h.session.UserID
	}
	h.session = sess
	h.mu.Unlock()

	h.l.InfoContext(ctx, "client initialized session",
		slog.String("client", p.ClientInfo.Name),
		slog.String("client_version", p.ClientInfo.Version),
		slog.String("protocol_version", version),
	)

	caps := mcp.ServerCapabilities{
		Tools:     &mcp.ListChangedCapability{},
		Resources: &mcp.ResourcesServerCapability{},
		Prompts:   &mcp.ListChangedCapability{},
	}
	if h.logging != nil {
		caps.Logging = &struct{}{}
	}
	return mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      h.serverInfo,
		Instructions:    h.instructions,
	}
}

func (h *Handler) handleNotification(ctx context.Context, n *jsonrpc.Request) {
	ctx = h.requestContext(ctx, n, "notification")

	switch mcp.Method(n.Method) {
	case mcp.InitializedNotificationMethod:
		h.l.DebugContext(ctx, "client reported initialized")
	case mcp.CancelledNotificationMethod:
		var p struct {
			RequestID *jsonrpc.RequestID `json:"requestId"`
			Reason    string             `json:"reason"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil || p.RequestID.IsNil() {
			h.l.WarnContext(ctx, "stdio: invalid cancelled notification")
			return
		}
		h.mu.Lock()
		ir := h.inflight[p.RequestID.String()]
		h.mu.Unlock()
		if ir == nil {
			return
		}
		ir.peerCancelled.Store(true)
		ir.cancel()
		h.l.DebugContext(ctx, "stdio: cancelled request", slog.String("id", p.RequestID.String()), slog.String("reason", p.Reason))
	default:
		h.l.DebugContext(ctx, "stdio: ignoring notification")
	}
}

// writeMessage serializes v as one line. Writes are serialized so that
// concurrent responses never interleave.
func (h *Handler) writeMessage(ctx context.Context, v any) {
	if err := h.write(v); err != nil {
		h.l.ErrorContext(ctx, "stdio: write failed", slog.Any("err", err))
	}
}

func (h *Handler) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err = h.w.Write(b)
	return err
}
