package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger. Production deployments run
// with LOG_FORMAT=json so the ledger and reconciliation runs can be queried
// by field; anything else falls back to the text handler for local work.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}

	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", "meridian")
	if cfg != nil {
		logger = logger.With("env", cfg.AppEnv)
	}
	return logger
}
