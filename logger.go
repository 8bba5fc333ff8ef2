package auth

import (
	"os"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger adapts a zerolog logger to Logger
func NewZerologLogger(log zerolog.Logger) Logger {
	return zerologLogger{log: log.With().Str("component", "auth").Logger()}
}

func (l zerologLogger) Debug(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l zerologLogger) Info(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l zerologLogger) Warn(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l zerologLogger) Error(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func defaultLogger() Logger {
	return NewZerologLogger(zerolog.New(os.Stderr).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger())
}

func normalizeLogger(logger Logger) Logger {
	if logger == nil {
		return defaultLogger()
	}
	return logger
}
