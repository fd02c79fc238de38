package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/jwebster45206/pbem-engine/internal/config"
)

// Setup configures the global slog logger based on environment
func Setup(cfg *config.Config) *slog.Logger {
	return SetupTo(os.Stdout, cfg)
}

// SetupTo is Setup with an explicit destination. CLIs log to stderr so
// stdout stays machine readable.
func SetupTo(w io.Writer, cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// WithMessage scopes a logger to one pipeline run
func WithMessage(logger *slog.Logger, messageID int64, sceneID *int64) *slog.Logger {
	if sceneID == nil {
		return logger.With("message_id", messageID)
	}
	return logger.With("message_id", messageID, "scene_id", *sceneID)
}

// WithError adds error to logger context
func WithError(logger *slog.Logger, err error) *slog.Logger {
	return logger.With("error", err.Error())
}
