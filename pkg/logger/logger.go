// Package logger carries a zap logger on the context and tags every line with
// the run and actor it was written for.
package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "chronolog/internal/core/context"
)

// Logger wraps zap.SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
}

type loggerKey struct{}

// Config holds logger configuration.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoding with colored levels
	OutputPaths []string
}

// New builds a logger. An unknown level falls back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	// Skip the package-level helpers so callers show up as the caller.
	zl, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{zl.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// fallback serves code running without a logger on its context, such as an
// embedding application that never configured one. It only reports warnings.
var fallback = sync.OnceValue(func() *Logger {
	l, err := New(Config{Level: "warn", OutputPaths: []string{"stderr"}})
	if err != nil {
		return NewNop()
	}
	return l
})

// WithLogger attaches l to ctx.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the attached logger, tagged with the run and actor in ctx.
func FromContext(ctx context.Context) *Logger {
	l, ok := ctx.Value(loggerKey{}).(*Logger)
	if !ok {
		l = fallback()
	}

	var kv []any
	if run := appctx.RunFrom(ctx); run != nil {
		kv = append(kv, "run_id", run.ID, "command", run.Command)
		if run.TraceID != "" {
			kv = append(kv, "trace_id", run.TraceID)
		}
	}
	if actor, ok := appctx.ActorFrom(ctx); ok {
		kv = append(kv, "actor", actor)
	}
	if len(kv) == 0 {
		return l
	}
	return &Logger{l.SugaredLogger.With(kv...)}
}

func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Debugw(msg, keysAndValues...)
}

func Info(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Infow(msg, keysAndValues...)
}

func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Warnw(msg, keysAndValues...)
}

func Error(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Errorw(msg, keysAndValues...)
}
