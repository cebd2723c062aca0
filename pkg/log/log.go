package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base = newDefault()

func newDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

// SetLogger swaps the package logger, e.g. for a zaptest logger or an
// application-wide instance.
func SetLogger(l *zap.Logger) {
	base = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// SetLevel rebuilds the default logger at the given level.
func SetLevel(lv zapcore.Level) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(lv)
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	base = l.Sugar()
}

func Debugf(format string, args ...interface{}) {
	base.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	base.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

func Info(args ...interface{}) {
	base.Info(args...)
}

func Warn(args ...interface{}) {
	base.Warn(args...)
}

func Error(args ...interface{}) {
	base.Error(args...)
}

// Sync flushes buffered entries.
func Sync() error {
	return base.Sync()
}
