package logger

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	mu          sync.Mutex
	globalSugar *zap.SugaredLogger
	globalBase  *zap.Logger
)

type ctxKey struct{}

// Init initializes a global zap logger. The env can be "production" or "development" (default).
// It also redirects the stdlib log output to zap so existing log.Printf calls are captured.
func Init(env string) (*zap.SugaredLogger, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalSugar != nil && globalBase != nil {
		return globalSugar, nil
	}

	var cfg zap.Config
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(base)
	_ = zap.RedirectStdLog(base)

	globalBase = base
	globalSugar = base.Sugar()
	return globalSugar, nil
}

// SetBase replaces the global logger. Tests use it with zaptest or zap.NewNop.
func SetBase(base *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalBase = base
	globalSugar = base.Sugar()
}

// L returns the global sugared logger, initializing it on first use.
func L() *zap.SugaredLogger {
	Base()
	return globalSugar
}

// Base returns the base *zap.Logger (non-sugared).
func Base() *zap.Logger {
	mu.Lock()
	initialized := globalBase != nil
	mu.Unlock()

	if !initialized {
		if _, err := Init(os.Getenv("LOG_ENV")); err != nil {
			SetBase(zap.NewExample())
		}
	}
	return globalBase
}

// WithFields returns a context carrying fields that With and the ctx helpers attach
// to every entry. Fields accumulate across nested calls.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	existing, _ := ctx.Value(ctxKey{}).([]zap.Field)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// With returns the base logger enriched with the fields stored in ctx.
func With(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Base()
	}
	fields, _ := ctx.Value(ctxKey{}).([]zap.Field)
	if len(fields) == 0 {
		return Base()
	}
	return Base().With(fields...)
}

// Debug logs with context and fields.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	With(ctx).Debug(msg, fields...)
}

// Info logs with context and fields.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	With(ctx).Info(msg, fields...)
}

// Warn logs with context and fields.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	With(ctx).Warn(msg, fields...)
}

// Error logs with context and fields.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	With(ctx).Error(msg, fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if globalBase != nil {
		_ = globalBase.Sync()
	}
}
