package logx

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Field appends one structured attribute to a zerolog event. Fields apply
// in call order, so a repeated key takes the last value written.
type Field func(e *zerolog.Event)

func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }

func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }

func Int64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }

func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}

func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger writes structured records to whatever root its Service currently
// holds, so a hot Apply is picked up without rebuilding loggers. The zero
// value discards everything. With derives a logger carrying fixed fields.
type Logger struct {
	svc      *Service
	static   zerolog.Logger
	isStatic bool

	fields []Field
}

// Nop returns a logger that discards all records.
func Nop() Logger {
	return Logger{static: zerolog.Nop(), isStatic: true}
}

// NewConsole returns a console-only logger detached from any Service.
// Used while bootstrapping, before the real log service is up.
func NewConsole(level string) Logger {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	w := zerolog.ConsoleWriter{Out: Stdout(), TimeFormat: timeFormat}
	root := zerolog.New(w).Level(parseLevel(level, zerolog.InfoLevel))
	return Logger{static: root.With().Timestamp().Logger(), isStatic: true}
}

func (l Logger) IsZero() bool {
	return l.svc == nil && !l.isStatic && len(l.fields) == 0
}

func (l Logger) root() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.isStatic:
		return l.static
	default:
		return zerolog.Nop()
	}
}

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	l.fields = merged
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	root := l.root()
	e := root.WithLevel(level)
	if e == nil {
		return
	}
	// file:line only; full function names add noise.
	if ref := callerRef(3); ref != "" {
		e.Str(zerolog.CallerFieldName, ref)
	}
	applyFields(e, l.fields)
	applyFields(e, fields)
	e.Msg(msg)
}

func applyFields(e *zerolog.Event, fields []Field) {
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
}

func callerRef(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

func parseLevel(name string, fallback zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return fallback
	}
}
