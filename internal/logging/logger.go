package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	slog.SetDefault(slog.New(newHandler(os.Getenv("ENVIRONMENT"))))
}

func newHandler(environment string) slog.Handler {
	if strings.ToLower(environment) == "production" {
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
}

// WithDevice returns a logger scoped to one client device.
func WithDevice(deviceID string) *slog.Logger {
	return slog.With("device_id", deviceID)
}

// WithSession returns a logger scoped to a capture session.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("session_id", sessionID)
}
