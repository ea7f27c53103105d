package mcprouter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-router-go/mcp"
)

// LoggingCapability handles logging/setLevel requests.
type LoggingCapability interface {
	SetLevel(ctx context.Context, level mcp.LoggingLevel) error
}

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// NewSlogLevelVarLogging returns a LoggingCapability that maps MCP LoggingLevel
// to a provided slog.LevelVar. This adjusts process-wide slog level when used
// with handlers created from the same LevelVar.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapability {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(_ context.Context, level mcp.LoggingLevel) error {
	if l.lv == nil {
		return nil
	}
	sl, err := SlogLevel(level)
	if err != nil {
		return err
	}
	l.lv.Set(sl)
	return nil
}

// SlogLevel maps an MCP logging level to the closest slog level. Notice maps
// to info and everything above error maps to error.
func SlogLevel(level mcp.LoggingLevel) (slog.Level, error) {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug, nil
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo, nil
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn, nil
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError, nil
	}
	return 0, ErrInvalidLoggingLevel
}
