// Package logging builds the service's golog logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/kataras/golog"
)

const prefix = "[memorybot] "

// New returns a logger at the given level. Valid levels are debug, info,
// warn, error and disable; empty means info.
func New(level string) (*golog.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	if !knownLevel(level) {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	logger := golog.New()
	logger.SetPrefix(prefix)
	logger.SetLevel(level)
	return logger, nil
}

// NewWriter is New with output redirected, used by the CLI and tests.
func NewWriter(level string, w io.Writer) (*golog.Logger, error) {
	logger, err := New(level)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(w)
	return logger, nil
}

// Discard returns a logger that drops everything.
func Discard() *golog.Logger {
	logger := golog.New()
	logger.SetLevel("disable")
	return logger
}

func knownLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error", "fatal", "disable":
		return true
	}
	return false
}
