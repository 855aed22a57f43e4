// Package obslog provides the gateway's structured logger: a thin
// wrapper around zap's SugaredLogger with JSON encoding, ISO8601
// timestamps, and the level set from config rather than hardcoded.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the gateway-wide structured logger. A *Logger wraps one
// zap.SugaredLogger; per-request loggers are built with With(...) so
// every log line in a request's lifecycle carries its request_id
// without threading it through every function signature.
type Logger struct {
	z *zap.SugaredLogger
}

// New builds a production-profile zap logger. debug relaxes the level
// to Debug and switches to a human-readable console encoder, matching
// the common zap pattern of swapping encoders for local development.
func New(debug bool) (*Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z.Sugar()}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// With returns a child Logger carrying the given key/value pairs on
// every subsequent log line — used to scope a logger to one request's
// request_id, model, and provider for the duration of its handling.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{z: l.z.With(kv...)}
}

func (l *Logger) Debugw(msg string, kv ...any) { l.z.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...any)  { l.z.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)  { l.z.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any) { l.z.Errorw(msg, kv...) }

// Sync flushes any buffered log entries. Call once at process shutdown.
func (l *Logger) Sync() error { return l.z.Sync() }
