// Package kvlog wraps go.uber.org/zap for the engine's ambient logging:
// flush and compaction outcomes, and the errors the
// spec says must be logged rather than surfaced (flush-worker IO failures,
// compactor errors).
package kvlog

import "go.uber.org/zap"

// Logger is the narrow logging surface threaded through Engine, the
// compactor, and the flush pool.
type Logger struct {
	s *zap.SugaredLogger
}

// Nop returns a Logger that discards everything, the default for library
// callers that don't want output.
func Nop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// Development returns a human-readable, non-JSON logger suited to cmd/lsmkv.
func Development() (*Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &Logger{s: l.Sugar()}, nil
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) *Logger {
	return &Logger{s: l.Sugar()}
}

func (l *Logger) Infow(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.s.Sync()
}
