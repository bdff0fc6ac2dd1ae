// internal/logging/levels.go
package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one step below Debug. Per-event dispatch in the realtime
// layer logs here.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, ignoring case and surrounding space.
// Besides zap's names it accepts "trace" and "warning".
func LevelFromString(level string) (zapcore.Level, error) {
	switch name := strings.ToLower(strings.TrimSpace(level)); name {
	case "trace":
		return TraceLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	default:
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(name)); err != nil {
			return zapcore.InfoLevel, err
		}
		return l, nil
	}
}

// LevelName is the inverse of LevelFromString.
func LevelName(l zapcore.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}

// levelEncoder renders TraceLevel by name instead of zap's "Level(-2)".
func levelEncoder(format string) zapcore.LevelEncoder {
	if format == "console" {
		return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(LevelName(l)))
		}
	}
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(LevelName(l))
	}
}
