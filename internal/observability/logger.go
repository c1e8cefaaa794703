// Package observability provides logging, metrics, and tracing for the bridge.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(e config.Env) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if e.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", e.ServiceName),
		slog.String("env", e.AppEnv),
	)
	return logger
}
