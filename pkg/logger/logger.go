package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level  string // "debug", "info", "warn", or "error"
	Format string // "json" or "console"
}

// Logger wraps zap.Logger with a named-scope helper
type Logger struct {
	z *zap.Logger
}

// Field is a structured log field
type Field = zap.Field

// New creates a new logger from the given configuration
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "", "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level: %q", cfg.Level)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = "json"
	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{z: z}, nil
}

// Named returns a logger with the given name segment appended to its scope
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name)}
}

// Debug logs a message at debug level
func (l *Logger) Debug(msg string, fields ...Field) {
	l.z.Debug(msg, fields...)
}

// Info logs a message at info level
func (l *Logger) Info(msg string, fields ...Field) {
	l.z.Info(msg, fields...)
}

// Warn logs a message at warn level
func (l *Logger) Warn(msg string, fields ...Field) {
	l.z.Warn(msg, fields...)
}

// Error logs a message at error level
func (l *Logger) Error(msg string, fields ...Field) {
	l.z.Error(msg, fields...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Field constructors, re-exported so callers only import this package.

func String(key, value string) Field             { return zap.String(key, value) }
func Int(key string, value int) Field            { return zap.Int(key, value) }
func Int64(key string, value int64) Field        { return zap.Int64(key, value) }
func Float64(key string, value float64) Field    { return zap.Float64(key, value) }
func Bool(key string, value bool) Field          { return zap.Bool(key, value) }
func Time(key string, value time.Time) Field     { return zap.Time(key, value) }
func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }
func Error(err error) Field                      { return zap.Error(err) }
func Any(key string, value any) Field            { return zap.Any(key, value) }
