package mdarunner

import "go.uber.org/zap"

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface, for callers
// who want the pack's structured-logging stack instead of writing their own
// adapter.
type ZapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger wraps an existing *zap.Logger.
func NewZapLogger(l *zap.Logger) ZapLogger {
	return ZapLogger{l: l.Sugar()}
}

// NewProductionZapLogger builds a ZapLogger over zap's default production
// configuration (JSON output, info level).
func NewProductionZapLogger() (ZapLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return ZapLogger{}, err
	}
	return NewZapLogger(l), nil
}

func (z ZapLogger) Info(msg string, args ...any)  { z.l.Infow(msg, args...) }
func (z ZapLogger) Warn(msg string, args ...any)  { z.l.Warnw(msg, args...) }
func (z ZapLogger) Error(msg string, args ...any) { z.l.Errorw(msg, args...) }
func (z ZapLogger) Debug(msg string, args ...any) { z.l.Debugw(msg, args...) }
