package logger

import "sync"

// TestLogEntry is a single captured log invocation.
type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

// TestLogger captures log entries in memory so tests can assert on them.
type TestLogger struct {
	mu       sync.Mutex
	metadata map[string]interface{}
	entries  []TestLogEntry
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a logger that records every entry.
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Entries returns a copy of everything logged so far.
func (t *TestLogger) Entries() []TestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TestLogEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// EntriesBySeverity returns captured entries matching severity ("WARN" etc).
func (t *TestLogger) EntriesBySeverity(severity string) []TestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TestLogEntry
	for _, e := range t.entries {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}

func (t *TestLogger) log(severity, msg string, args ...interface{}) {
	t.mu.Lock()
	t.entries = append(t.entries, TestLogEntry{severity, msg, args})
	t.mu.Unlock()
}

func (t *TestLogger) With(metadata map[string]interface{}) Logger {
	return t
}

func (t *TestLogger) WithPrefix(prefix string) Logger {
	return t
}

func (t *TestLogger) Trace(msg string, args ...interface{}) {
	t.log("TRACE", msg, args...)
}

func (t *TestLogger) Debug(msg string, args ...interface{}) {
	t.log("DEBUG", msg, args...)
}

func (t *TestLogger) Info(msg string, args ...interface{}) {
	t.log("INFO", msg, args...)
}

func (t *TestLogger) Warn(msg string, args ...interface{}) {
	t.log("WARN", msg, args...)
}

func (t *TestLogger) Error(msg string, args ...interface{}) {
	t.log("ERROR", msg, args...)
}
