package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zerologFactory routes pion's internal logging into the global zerolog logger.
type zerologFactory struct {
	level zerolog.Level
}

func newLoggerFactory(level zerolog.Level) logging.LoggerFactory {
	return zerologFactory{level: level}
}

func (f zerologFactory) NewLogger(scope string) logging.LeveledLogger {
	l := log.With().Str("module", "pion").Str("scope", scope).Logger().Level(f.level)
	return &zerologLogger{l: l}
}

type zerologLogger struct {
	l zerolog.Logger
}

func (z *zerologLogger) Trace(msg string)                  { z.l.Trace().Msg(msg) }
func (z *zerologLogger) Tracef(format string, args ...any) { z.l.Trace().Msgf(format, args...) }
func (z *zerologLogger) Debug(msg string)                  { z.l.Debug().Msg(msg) }
func (z *zerologLogger) Debugf(format string, args ...any) { z.l.Debug().Msgf(format, args...) }
func (z *zerologLogger) Info(msg string)                   { z.l.Info().Msg(msg) }
func (z *zerologLogger) Infof(format string, args ...any)  { z.l.Info().Msgf(format, args...) }
func (z *zerologLogger) Warn(msg string)                   { z.l.Warn().Msg(msg) }
func (z *zerologLogger) Warnf(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z *zerologLogger) Error(msg string)                  { z.l.Error().Msg(msg) }
func (z *zerologLogger) Errorf(format string, args ...any) { z.l.Error().Msgf(format, args...) }
