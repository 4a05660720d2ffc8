package stdio

import (
	"io"
	"log/slog"

	"github.com/ggoodman/mcp-todo/internal/logctx"
	"github.com/ggoodman/mcp-todo/mcp"
	"github.com/ggoodman/mcp-todo/mcpservice"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
	}
}

// WithWriter overrides the output stream.
func WithWriter(w io.Writer) Option {
	return func(h *Handler) {
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithTeeLogger makes the handler log through next and mirror records to
// the client as notifications/message once it has set a level. The logger is
// available from Handler.Logger so the rest of the server can share it.
func WithTeeLogger(next slog.Handler) Option {
	return func(h *Handler) {
		if next != nil {
			h.l = slog.New(logctx.NewHandler(h.LogHandler(next)))
		}
	}
}

// WithUserProvider overrides the user provider used for authless identification.
func WithUserProvider(up UserProvider) Option {
	return func(h *Handler) {
		if up != nil {
			h.userProvider = up
		}
	}
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(h *Handler) {
		h.serverInfo = info
	}
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(s string) Option {
	return func(h *Handler) {
		h.instructions = s
	}
}

// WithLogging enables the logging capability. Without it logging/setLevel
// is answered with method not found.
func WithLogging(lc mcpservice.LoggingCapability) Option {
	return func(h *Handler) {
		h.logging = lc
	}
}
