package xcpudp

import "log/slog"

// Logger is the structured logger used by the server.
// *slog.Logger satisfies it; args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger {
	return slog.Default()
}

// DiscardLogger returns a Logger that drops every record.
func DiscardLogger() Logger {
	return discardLogger{}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
