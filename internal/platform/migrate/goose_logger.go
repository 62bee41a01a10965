package migrate

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// gooseSlogLogger routes goose progress lines into the service logger under
// component=migrate. Goose terminates its own lines with newlines; they are
// trimmed so text and JSON handlers both produce one record per line.
type gooseSlogLogger struct {
	logger *slog.Logger
}

func newGooseLogger(logger *slog.Logger) gooseSlogLogger {
	if logger == nil {
		return gooseSlogLogger{}
	}
	return gooseSlogLogger{logger: logger.With("component", "migrate")}
}

func (l gooseSlogLogger) Printf(format string, v ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Info(formatGooseLine(format, v...))
}

// Fatalf is only reached on unrecoverable goose failures; the process cannot
// continue with a half-applied schema.
func (l gooseSlogLogger) Fatalf(format string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Error(formatGooseLine(format, v...))
	}
	os.Exit(1)
}

func formatGooseLine(format string, v ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, v...))
}
