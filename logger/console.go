package logger

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	reset      = "\033[0m"
	red        = "\033[31m"
	green      = "\033[32m"
	yellow     = "\033[33m"
	cyan       = "\033[36m"
	gray       = "\033[1;90m"
	whiteBold  = "\033[37;1m"
	redBold    = "\033[31;1m"
	yellowBold = "\033[33;1m"
)

var levelColors = map[LogLevel]string{
	LevelTrace: gray,
	LevelDebug: cyan,
	LevelInfo:  green,
	LevelWarn:  yellowBold,
	LevelError: redBold,
}

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
	sink     Sink
	mu       *sync.Mutex
}

var _ Logger = (*consoleLogger)(nil)

// NewConsoleLogger returns a logger that writes human readable, optionally
// colored output to stdout.
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &consoleLogger{
		logLevel: level,
		sink:     os.Stdout,
		mu:       &sync.Mutex{},
	}
}

func (c *consoleLogger) clone() *consoleLogger {
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	return &consoleLogger{
		prefixes: prefixes,
		metadata: metadata,
		logLevel: c.logLevel,
		sink:     c.sink,
		mu:       c.mu,
	}
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	l := c.clone()
	if l.metadata == nil {
		l.metadata = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		l.metadata[k] = v
	}
	return l
}

func (c *consoleLogger) WithPrefix(prefix string) Logger {
	l := c.clone()
	if !slices.Contains(l.prefixes, prefix) {
		l.prefixes = append(l.prefixes, prefix)
	}
	return l
}

func (c *consoleLogger) write(level LogLevel, msg string, args ...interface{}) {
	if level < c.logLevel || c.logLevel == LevelNone {
		return
	}
	var buf strings.Builder
	buf.WriteString(color(gray))
	buf.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	buf.WriteString(color(reset))
	buf.WriteString(" ")
	buf.WriteString(color(levelColors[level]))
	buf.WriteString(fmt.Sprintf("[%-5s]", level.String()))
	buf.WriteString(color(reset))
	if len(c.prefixes) > 0 {
		buf.WriteString(" ")
		buf.WriteString(color(whiteBold))
		buf.WriteString(strings.Join(c.prefixes, " "))
		buf.WriteString(color(reset))
	}
	buf.WriteString(" ")
	buf.WriteString(fmt.Sprintf(msg, args...))
	if len(c.metadata) > 0 {
		keys := make([]string, 0, len(c.metadata))
		for k := range c.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteString(fmt.Sprintf(" %s%s=%v%s", color(gray), k, c.metadata[k], color(reset)))
		}
	}
	buf.WriteString("\n")
	c.mu.Lock()
	fmt.Fprint(c.sink, buf.String())
	c.mu.Unlock()
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.write(LevelTrace, msg, args...)
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.write(LevelDebug, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.write(LevelInfo, msg, args...)
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.write(LevelWarn, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.write(LevelError, msg, args...)
}
