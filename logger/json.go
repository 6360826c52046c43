package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

type jsonLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
	sink     Sink
	mu       *sync.Mutex
}

var _ Logger = (*jsonLogger)(nil)

// NewJSONLogger returns a logger that writes one JSON object per line to
// stderr, suitable for machine ingestion.
func NewJSONLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &jsonLogger{
		logLevel: level,
		sink:     os.Stderr,
		mu:       &sync.Mutex{},
	}
}

func (j *jsonLogger) clone() *jsonLogger {
	metadata := make(map[string]interface{}, len(j.metadata))
	for k, v := range j.metadata {
		metadata[k] = v
	}
	prefixes := make([]string, len(j.prefixes))
	copy(prefixes, j.prefixes)
	return &jsonLogger{
		prefixes: prefixes,
		metadata: metadata,
		logLevel: j.logLevel,
		sink:     j.sink,
		mu:       j.mu,
	}
}

func (j *jsonLogger) With(metadata map[string]interface{}) Logger {
	l := j.clone()
	if l.metadata == nil {
		l.metadata = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		l.metadata[k] = v
	}
	return l
}

func (j *jsonLogger) WithPrefix(prefix string) Logger {
	l := j.clone()
	l.prefixes = append(l.prefixes, prefix)
	return l
}

func (j *jsonLogger) write(level LogLevel, msg string, args ...interface{}) {
	if level < j.logLevel || j.logLevel == LevelNone {
		return
	}
	entry := make(map[string]interface{}, len(j.metadata)+3)
	for k, v := range j.metadata {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["severity"] = level.String()
	text := fmt.Sprintf(msg, args...)
	if len(j.prefixes) > 0 {
		text = strings.Join(j.prefixes, " ") + " " + text
	}
	entry["message"] = text
	buf, err := json.Marshal(entry)
	if err != nil {
		// entries carrying unserializable metadata degrade to the message only
		buf, _ = json.Marshal(map[string]interface{}{
			"ts":       time.Now().UTC().Format(time.RFC3339Nano),
			"severity": level.String(),
			"message":  text,
		})
	}
	j.mu.Lock()
	fmt.Fprintln(j.sink, string(buf))
	j.mu.Unlock()
}

func (j *jsonLogger) Trace(msg string, args ...interface{}) {
	j.write(LevelTrace, msg, args...)
}

func (j *jsonLogger) Debug(msg string, args ...interface{}) {
	j.write(LevelDebug, msg, args...)
}

func (j *jsonLogger) Info(msg string, args ...interface{}) {
	j.write(LevelInfo, msg, args...)
}

func (j *jsonLogger) Warn(msg string, args ...interface{}) {
	j.write(LevelWarn, msg, args...)
}

func (j *jsonLogger) Error(msg string, args ...interface{}) {
	j.write(LevelError, msg, args...)
}
