package mcp

import "log/slog"

// SlogLevel maps an MCP logging level to the closest slog level.
func SlogLevel(level LoggingLevel) (slog.Level, bool) {
	switch level {
	case LoggingLevelDebug:
		return slog.LevelDebug, true
	case LoggingLevelInfo, LoggingLevelNotice:
		// Map notice to info
		return slog.LevelInfo, true
	case LoggingLevelWarning:
		return slog.LevelWarn, true
	case LoggingLevelError, LoggingLevelCritical, LoggingLevelAlert, LoggingLevelEmergency:
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// MCPLevel maps an slog level to an MCP logging level.
func MCPLevel(level slog.Level) LoggingLevel {
	switch {
	case level >= slog.LevelError:
		return LoggingLevelError
	case level >= slog.LevelWarn:
		return LoggingLevelWarning
	case level >= slog.LevelInfo:
		return LoggingLevelInfo
	default:
		return LoggingLevelDebug
	}
}
