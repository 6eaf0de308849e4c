// ABOUTME: Bridges whatsmeow's waLog interface onto slog
// ABOUTME: Keeps backend library logs in the gateway's structured output

package wameow

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

type slogBridge struct {
	logger *slog.Logger
}

// newWALogger wraps an slog.Logger for use by whatsmeow internals.
func newWALogger(logger *slog.Logger) waLog.Logger {
	return &slogBridge{logger: logger}
}

func (l *slogBridge) Warnf(msg string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

func (l *slogBridge) Errorf(msg string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l *slogBridge) Infof(msg string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(msg, args...))
}

func (l *slogBridge) Debugf(msg string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l *slogBridge) Sub(module string) waLog.Logger {
	return &slogBridge{logger: l.logger.With("module", module)}
}
