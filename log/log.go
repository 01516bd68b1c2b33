// Package log provides the engine's package-level structured logger,
// mirroring the teacher's logger.go: a lazily-defaulted log/slog.Logger
// that callers may override. There is one logger per process: every
// engine with logging enabled writes to it.
package log

import (
	"log/slog"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// SetDefault overrides the package-level logger used by every engine with
// logging enabled.
func SetDefault(l *slog.Logger) {
	logger = l
}

// Default returns the configured package-level logger, defaulting to
// slog.Default() the first time it is needed.
func Default() *slog.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = slog.Default()
		}
	})
	return logger
}
