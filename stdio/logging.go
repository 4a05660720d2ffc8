package stdio

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ggoodman/mcp-todo/internal/jsonrpc"
	"github.com/ggoodman/mcp-todo/mcp"
)

// LogHandler returns a slog.Handler that writes every record to next and,
// once the client has chosen a level with logging/setLevel, also forwards
// records at or above that level to the client as notifications/message.
func (h *Handler) LogHandler(next slog.Handler) slog.Handler {
	return &clientLogHandler{next: next, h: h}
}

type clientLogHandler struct {
	next   slog.Handler
	h      *Handler
	attrs  []slog.Attr
	prefix string
}

func (c *clientLogHandler) clientEnabled(level slog.Level) bool {
	if !c.h.serving.Load() || c.h.done.Load() {
		return false
	}
	floor := c.h.clientLevel.Load()
	return floor != nil && level >= *floor
}

func (c *clientLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return c.next.Enabled(ctx, level) || c.clientEnabled(level)
}

func (c *clientLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if c.next.Enabled(ctx, r.Level) {
		err = c.next.Handle(ctx, r)
	}
	if c.clientEnabled(r.Level) {
		data := map[string]any{"message": r.Message}
		for _, a := range c.attrs {
			addAttr(data, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(data, c.prefix, a)
			return true
		})
		n, nerr := jsonrpc.NewNotification(string(mcp.LoggingMessageNotificationMethod), mcp.LoggingMessageNotification{
			Level:  mcp.MCPLevel(r.Level),
			Logger: c.h.serverInfo.Name,
			Data:   data,
		})
		if nerr == nil {
			// Delivery to the client is best effort; never log from here.
			_ = c.h.write(n)
		}
	}
	return err
}

func (c *clientLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	prefixed = append(prefixed, c.attrs...)
	for _, a := range attrs {
		a.Key = c.prefix + a.Key
		prefixed = append(prefixed, a)
	}
	return &clientLogHandler{next: c.next.WithAttrs(attrs), h: c.h, attrs: prefixed, prefix: c.prefix}
}

func (c *clientLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return c
	}
	return &clientLogHandler{next: c.next.WithGroup(name), h: c.h, attrs: c.attrs, prefix: c.prefix + name + "."}
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(dst, p, ga)
		}
		return
	}
	key := strings.TrimSuffix(prefix+a.Key, ".")
	switch v := a.Value.Any().(type) {
	case error:
		dst[key] = v.Error()
	default:
		dst[key] = a.Value.Any()
	}
}
