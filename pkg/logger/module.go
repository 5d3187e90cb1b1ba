package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/fylle/workflow-mcp/pkg/config"
	"go.uber.org/fx"
)

func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogLogger writes to stderr (stdout belongs to the stdio MCP transport)
// and tees every record into buffer.
func NewSlogLogger(cfg *config.ServerConfig, buffer *RingBuffer) *slog.Logger {
	return newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat, buffer)
}

func newLogger(w io.Writer, level, format string, buffer *RingBuffer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	if buffer != nil {
		handler = newBufferingHandler(handler, buffer, opts)
	}

	return slog.New(handler)
}

func NewRingBufferFromConfig(cfg *config.ServerConfig) *RingBuffer {
	return NewRingBuffer(cfg.LogBuffer)
}

var Module = fx.Module("logger",
	fx.Provide(
		NewRingBufferFromConfig,
		NewSlogLogger,
	),
)
