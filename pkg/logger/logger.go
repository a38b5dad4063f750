package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Logger is the service's operational logger: leveled, key/value pairs, one line per call.
type Logger struct {
	logger *log.Logger
	level  Level
	fields []interface{}
}

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	OFF
)

func New(level string) *Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter builds a logger writing to w. Tests pass a buffer or io.Discard.
func NewWithWriter(w io.Writer, level string) *Logger {
	return &Logger{
		logger: log.New(w, "", 0),
		level:  parseLevel(level),
	}
}

// Nop returns a logger that drops everything.
func Nop() *Logger {
	return NewWithWriter(io.Discard, "off")
}

func parseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "off", "none":
		return OFF
	default:
		return INFO
	}
}

// With returns a child logger that prepends the given key/value pairs to every line.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(args))
	fields = append(fields, l.fields...)
	fields = append(fields, args...)
	return &Logger{
		logger: l.logger,
		level:  l.level,
		fields: fields,
	}
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= DEBUG {
		l.log("DEBUG", msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= INFO {
		l.log("INFO", msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= WARN {
		l.log("WARN", msg, args...)
	}
}

func (l *Logger) Error(msg string, err error, args ...interface{}) {
	if l.level <= ERROR {
		if err != nil {
			args = append(args, "error", err.Error())
		}
		l.log("ERROR", msg, args...)
	}
}

func (l *Logger) log(level, msg string, args ...interface{}) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)

	all := args
	if len(l.fields) > 0 {
		all = append(append(make([]interface{}, 0, len(l.fields)+len(args)), l.fields...), args...)
	}

	if len(all) > 0 {
		b.WriteString(" |")
		for i := 0; i < len(all); i += 2 {
			if i+1 < len(all) {
				fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
			} else {
				fmt.Fprintf(&b, " %v=(missing)", all[i])
			}
		}
	}

	l.logger.Println(b.String())
}
