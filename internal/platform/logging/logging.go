package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/kataras/golog"
)

// Logger is the printf-style logging surface handed to services and adapters.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "disable"
	}
}

func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "none", "off", "disable":
		return LevelNone, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// Golog writes through a kataras/golog logger.
type Golog struct {
	logger *golog.Logger
	prefix string
}

var _ Logger = (*Golog)(nil)

func New(out io.Writer, level Level) *Golog {
	logger := golog.New()
	logger.SetOutput(out)
	logger.SetLevel(level.String())
	return &Golog{logger: logger}
}

// With returns a logger sharing the same sink whose lines start with "[tag] ".
func (l *Golog) With(tag string) *Golog {
	return &Golog{logger: l.logger, prefix: l.prefix + "[" + tag + "] "}
}

func (l *Golog) Debug(format string, v ...any) { l.logger.Debugf(l.prefix+format, v...) }
func (l *Golog) Info(format string, v ...any)  { l.logger.Infof(l.prefix+format, v...) }
func (l *Golog) Warn(format string, v ...any)  { l.logger.Warnf(l.prefix+format, v...) }
func (l *Golog) Error(format string, v ...any) { l.logger.Errorf(l.prefix+format, v...) }

type NoOp struct{}

func (NoOp) Debug(string, ...any) {}
func (NoOp) Info(string, ...any)  {}
func (NoOp) Warn(string, ...any)  {}
func (NoOp) Error(string, ...any) {}

// OrNoOp keeps nil loggers out of constructors.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOp{}
	}
	return l
}
