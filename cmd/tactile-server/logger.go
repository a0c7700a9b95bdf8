package main

import (
	"io"
	"log/slog"

	"github.com/kstaniek/go-tactile-server/internal/logging"
)

// setupLogger installs the global logger and returns it with a closer for
// the optional log file.
func setupLogger(cfg *appConfig) (*slog.Logger, io.Closer) {
	w, closer := logging.Output(logging.FileConfig{
		Path:       cfg.logFile,
		MaxSizeMB:  cfg.logMaxSizeMB,
		MaxBackups: cfg.logMaxBackups,
		Compress:   true,
	})
	l := logging.New(cfg.logFormat, logging.ParseLevel(cfg.logLevel), w).With("app", "tactile-server")
	logging.Set(l)
	return l, closer
}
