package plugin

import (
	"context"
	"log/slog"
)

// Имя и операции коннектора log.
const (
	logConnectorName = "log"
	logOpWrite       = "write"
)

// LogConnector — коннектор структурированного лога.
//
// Операция write пишет сообщение уровнем level (debug|info|warn|error,
// по умолчанию info); остальные параметры попадают в запись атрибутами.
type LogConnector struct {
	logger *slog.Logger
}

// NewLogConnector создаёт коннектор log.
func NewLogConnector(logger *slog.Logger) *LogConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogConnector{
		logger: logger.With("component", "plugin.log"),
	}
}

// Name возвращает имя плагина.
func (c *LogConnector) Name() string {
	return logConnectorName
}

// Operations возвращает операции плагина.
func (c *LogConnector) Operations() map[string]Operation {
	return map[string]Operation{
		logOpWrite: c.write,
	}
}

func (c *LogConnector) write(ctx context.Context, params map[string]any) (map[string]any, error) {
	level := GetString(params, "level")
	message := GetString(params, "message")

	attrs := make([]any, 0, 2*len(params))
	for key, value := range params {
		if key == "level" || key == "message" {
			continue
		}
		attrs = append(attrs, key, value)
	}

	switch level {
	case "debug":
		c.logger.DebugContext(ctx, message, attrs...)
	case "warn":
		c.logger.WarnContext(ctx, message, attrs...)
	case "error":
		c.logger.ErrorContext(ctx, message, attrs...)
	default:
		level = "info"
		c.logger.InfoContext(ctx, message, attrs...)
	}

	return map[string]any{
		"logged":  true,
		"level":   level,
		"message": message,
	}, nil
}
