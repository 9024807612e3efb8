// Package logging wraps log/slog the way the rest of the pack does:
// structured logging internally, with a thin Printf-style compatibility
// layer for code that still wants formatted messages.
package logging

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/scrcpy-core/adbcore/config"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Init configures the global slog logger. Safe to call multiple times;
// only the first call takes effect.
func Init(verbose bool) {
	once.Do(func() {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// Get returns the configured logger, initializing it from config
// defaults on first use.
func Get() *slog.Logger {
	if logger == nil {
		Init(config.Verbose())
	}
	return logger
}

// Logger provides log.Printf-style methods over the slog logger, for
// code paths ported from a printf-oriented reference that would be
// awkward to restate as structured fields everywhere.
type Logger struct {
	slog    *slog.Logger
	verbose bool
}

// Compat returns a Printf-style logger wrapping the global slog logger.
func Compat() *Logger {
	l := Get()
	return &Logger{slog: l, verbose: l.Enabled(context.Background(), slog.LevelDebug)}
}

func (l *Logger) Printf(format string, v ...interface{}) {
	l.slog.Info(fmt.Sprintf(format, v...))
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.verbose {
		l.slog.Debug(fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.slog.Error(fmt.Sprintf(format, v...))
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.slog.Warn(fmt.Sprintf(format, v...))
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.slog.Info(fmt.Sprintf(format, v...))
}

// Redirect routes the standard library's log package through slog, for
// third-party code that logs via log.Print.
func Redirect() {
	log.SetOutput(&logWriter{logger: Get()})
}

type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Info(string(p))
	return len(p), nil
}
