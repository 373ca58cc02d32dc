package xcpudp

import (
	"log/slog"
	"sync"
	"testing"
)

func TestLogger_SlogImplements(t *testing.T) {
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	if defaultLogger() != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := DiscardLogger()

	// Must not panic.
	logger.Debug("debug", "key", "value")
	logger.Info("info", "key", "value")
	logger.Warn("warn", "key", "value")
	logger.Error("error", "key", "value")
}

// mockLogger records messages by level.
type mockLogger struct {
	mu       sync.Mutex
	messages map[string][]string
}

func (l *mockLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.messages == nil {
		l.messages = make(map[string][]string)
	}
	l.messages[level] = append(l.messages[level], msg)
}

func (l *mockLogger) Debug(msg string, args ...any) { l.log("debug", msg) }
func (l *mockLogger) Info(msg string, args ...any)  { l.log("info", msg) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.log("warn", msg) }
func (l *mockLogger) Error(msg string, args ...any) { l.log("error", msg) }

func (l *mockLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages[level] {
		if m == msg {
			return true
		}
	}
	return false
}

func TestServer_LogsConnectionLifecycle(t *testing.T) {
	logger := &mockLogger{}
	s, conn, _ := newTestServer(t, LoggerOption(logger))

	conn.push(encode(t, 0, 0xFA), addrA)
	step(t, s)
	if !logger.has("debug", "ignored: no valid CONNECT command") {
		t.Error("ignored handshake not logged")
	}

	connect(t, s, conn, addrA)
	if !logger.has("info", "client connected") {
		t.Error("connect not logged")
	}

	s.Disconnect()
	if !logger.has("info", "client disconnected") {
		t.Error("disconnect not logged")
	}
}
