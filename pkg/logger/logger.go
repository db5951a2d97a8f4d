package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

var globalLogger zerolog.Logger

func init() {
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	var out io.Writer = os.Stderr
	if os.Getenv("LOG_FORMAT") == "console" {
		out = ConsoleWriter()
	}
	install(newLogger(out).Level(levelFromEnv()))
}

func newLogger(out io.Writer) zerolog.Logger {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	exe := "vospace"
	if p, err := os.Executable(); err == nil {
		exe = filepath.Base(p)
	}
	return zerolog.New(out).With().
		Timestamp().
		Str("hostname", host).
		Str("executable", exe).
		Stack().
		Caller().
		Logger()
}

func levelFromEnv() zerolog.Level {
	lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// install makes l the package logger and zerolog's global one.
func install(l zerolog.Logger) {
	globalLogger = l
	log.Logger = l
}

// Ctx returns the request-scoped logger carried by ctx, falling back to the
// global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, _ := ctx.Value(ctxKey{}).(*zerolog.Logger); l != nil {
			return l
		}
	}
	return &globalLogger
}

func WithLogger(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With starts a child of the global logger.
func With() zerolog.Context { return globalLogger.With() }

// SetOutput swaps the writer and keeps level and fields.
func SetOutput(w io.Writer) { install(globalLogger.Output(w)) }

// ConsoleWriter is the human readable format used for local runs.
func ConsoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

func SetLevel(level zerolog.Level) { install(globalLogger.Level(level)) }

func Fatal() *zerolog.Event { return globalLogger.Fatal() }
func Error() *zerolog.Event { return globalLogger.Error() }
func Warn() *zerolog.Event  { return globalLogger.Warn() }
func Info() *zerolog.Event  { return globalLogger.Info() }
func Debug() *zerolog.Event { return globalLogger.Debug() }
