package mordor

import (
	"io"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger wraps a logiface.Logger[*stumpy.Event], giving the scheduler,
// fiber trampoline, and timer manager a single structured-logging sink. A
// nil *Logger disables logging entirely; every call site in this package
// checks for nil before formatting a single field, so there is no cost to
// leaving logging off.
type Logger struct {
	l *logiface.Logger[*stumpy.Event]
}

// NewLogger builds a Logger writing newline-delimited JSON to w via the
// stumpy backend. Pass os.Stderr for the teacher's default.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	factory := stumpy.L.New(
		logiface.WithLevel[*stumpy.Event](level),
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	)
	return &Logger{l: factory}
}

// NoOpLogger returns a Logger that is enabled but discards everything,
// useful for tests that want to exercise logging call sites without
// producing output.
func NoOpLogger() *Logger {
	return &Logger{l: stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(io.Discard)))}
}

func (g *Logger) build(level logiface.Level, msg string, kv []any) {
	if g == nil || g.l == nil {
		return
	}
	b := g.l.Build(level)
	if !b.Enabled() {
		b.Release()
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		switch v := kv[i+1].(type) {
		case string:
			b = b.Str(key, v)
		case int:
			b = b.Int(key, v)
		case int64:
			b = b.Int64(key, v)
		case bool:
			b = b.Bool(key, v)
		case time.Duration:
			b = b.Dur(key, v)
		case time.Time:
			b = b.Time(key, v)
		case error:
			b = b.Err(v)
		default:
			b = b.Interface(key, v)
		}
	}
	b.Log(msg)
}

// Trace logs at trace level, intended for per-fire timer bookkeeping.
func (g *Logger) Trace(msg string, kv ...any) { g.build(logiface.LevelTrace, msg, kv) }

// Debug logs at debug level.
func (g *Logger) Debug(msg string, kv ...any) { g.build(logiface.LevelDebug, msg, kv) }

// Info logs at informational level.
func (g *Logger) Info(msg string, kv ...any) { g.build(logiface.LevelInformational, msg, kv) }

// Warn logs at warning level.
func (g *Logger) Warn(msg string, kv ...any) { g.build(logiface.LevelWarning, msg, kv) }

// Error logs at error level.
func (g *Logger) Error(msg string, kv ...any) { g.build(logiface.LevelError, msg, kv) }
