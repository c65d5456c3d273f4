package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel maps a LOG_LEVEL value to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

type network struct {
	prefix string
	color  color.Attribute
}

var knownNetworks = map[uint64]network{
	1:     {"[ETH]  ", color.FgHiGreen},
	56:    {"[BSC]  ", color.FgYellow},
	137:   {"[POL]  ", color.FgMagenta},
	42161: {"[ARB]  ", color.FgHiBlue},
	43114: {"[AVA]  ", color.FgRed},
	8453:  {"[BASE] ", color.FgBlue},
	7000:  {"[ZETA] ", color.FgGreen},
}

func networkFor(id uint64) network {
	if n, ok := knownNetworks[id]; ok {
		return n
	}
	return network{prefix: fmt.Sprintf("[%d] ", id), color: color.FgCyan}
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithNetwork(networkID uint64, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithNetwork(networkID uint64, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithNetwork(networkID uint64, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithNetwork(networkID uint64, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                         {}
func (l *EmptyLogger) InfoWithNetwork(_ uint64, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                        {}
func (l *EmptyLogger) ErrorWithNetwork(_ uint64, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                        {}
func (l *EmptyLogger) DebugWithNetwork(_ uint64, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                       {}
func (l *EmptyLogger) NoticeWithNetwork(_ uint64, _ string, _ ...interface{}) {}

// StdLogger writes to the standard log package, optionally colouring the
// network prefix.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

func (l *StdLogger) formatMessage(level Level, net *network, format string) string {
	var prefix string
	if net != nil {
		prefix = net.prefix
		if l.enableColoring {
			prefix = color.New(net.color).Sprint(prefix)
		}
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + prefix + format
}

func (l *StdLogger) write(level Level, net *network, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		log.Printf(l.formatMessage(level, net, format), args...)
	}
}

func (l *StdLogger) writeNetwork(level Level, id uint64, format string, args []interface{}) {
	net := networkFor(id)
	l.write(level, &net, format, args)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.write(InfoLevel, nil, format, args)
}

func (l *StdLogger) InfoWithNetwork(networkID uint64, format string, args ...interface{}) {
	l.writeNetwork(InfoLevel, networkID, format, args)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.write(ErrorLevel, nil, format, args)
}

func (l *StdLogger) ErrorWithNetwork(networkID uint64, format string, args ...interface{}) {
	l.writeNetwork(ErrorLevel, networkID, format, args)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.write(DebugLevel, nil, format, args)
}

func (l *StdLogger) DebugWithNetwork(networkID uint64, format string, args ...interface{}) {
	l.writeNetwork(DebugLevel, networkID, format, args)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.write(NoticeLevel, nil, format, args)
}

func (l *StdLogger) NoticeWithNetwork(networkID uint64, format string, args ...interface{}) {
	l.writeNetwork(NoticeLevel, networkID, format, args)
}
