// Package logging carries pybrowse diagnostics. Results are written to stdout
// by the commands; everything logged here goes to stderr unless redirected.
package logging

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

const appName = "pybrowse"

var current atomic.Pointer[log.Logger]

func init() {
	current.Store(newLogger(os.Stderr, false))
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Prefix:          appName,
		ReportTimestamp: true,
		Level:           level,
	})
}

// Configure redirects diagnostics to w. Debug messages are emitted only when
// verbose is set.
func Configure(w io.Writer, verbose bool) {
	current.Store(newLogger(w, verbose))
}

// Logger returns the active logger.
func Logger() *log.Logger {
	return current.Load()
}

func Info(message string, keyvals ...any) {
	Logger().Info(message, keyvals...)
}

func Debug(message string, keyvals ...any) {
	Logger().Debug(message, keyvals...)
}

func Warn(message string, keyvals ...any) {
	Logger().Warn(message, keyvals...)
}

func Error(message string, keyvals ...any) {
	Logger().Error(message, keyvals...)
}
