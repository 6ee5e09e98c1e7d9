package adapters

import (
	"context"
	"log/slog"

	"github.com/rendis/rigflow/pkg/schema"
)

// LogMessenger writes operator messages to a logger and answers
// confirmations with a fixed reply.
type LogMessenger struct {
	logger      *slog.Logger
	autoConfirm bool
}

// NewLogMessenger creates a LogMessenger. A nil logger uses slog.Default().
func NewLogMessenger(logger *slog.Logger, autoConfirm bool) *LogMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessenger{logger: logger, autoConfirm: autoConfirm}
}

func (m *LogMessenger) Show(ctx context.Context, message string, level schema.MessageLevel) error {
	m.logger.Log(ctx, slogLevel(level), "operator message", slog.String("text", message))
	return ctx.Err()
}

func (m *LogMessenger) Confirm(ctx context.Context, message string, level schema.MessageLevel) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.logger.Log(ctx, slogLevel(level), "operator confirmation",
		slog.String("text", message), slog.Bool("answer", m.autoConfirm))
	return m.autoConfirm, nil
}

func slogLevel(level schema.MessageLevel) slog.Level {
	switch level {
	case schema.MessageLevelWarning:
		return slog.LevelWarn
	case schema.MessageLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
