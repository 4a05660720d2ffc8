package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-todo/mcp"
)

// LoggingCapability handles logging/setLevel for a server.
type LoggingCapability interface {
	SetLevel(ctx context.Context, level mcp.LoggingLevel) error
}

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// NewSlogLevelVarLogging returns a LoggingCapability that maps MCP logging
// levels onto lv. Handlers built with the same LevelVar follow the client's
// requested level.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapability {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(ctx context.Context, level mcp.LoggingLevel) error {
	slogLevel, ok := mcp.SlogLevel(level)
	if !ok {
		return ErrInvalidLoggingLevel
	}
	if l.lv != nil {
		l.lv.Set(slogLevel)
	}
	return nil
}
