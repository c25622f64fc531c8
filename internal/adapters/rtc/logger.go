package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zerologFactory routes pion internals through the process logger.
type zerologFactory struct{}

func NewLoggerFactory() logging.LoggerFactory {
	return zerologFactory{}
}

func (zerologFactory) NewLogger(scope string) logging.LeveledLogger {
	l := log.With().Str("module", "pion").Str("scope", scope).Logger()
	return &zerologLeveled{l: l}
}

type zerologLeveled struct {
	l zerolog.Logger
}

func (z *zerologLeveled) Trace(msg string)             { z.l.Trace().Msg(msg) }
func (z *zerologLeveled) Tracef(f string, args ...any) { z.l.Trace().Msgf(f, args...) }
func (z *zerologLeveled) Debug(msg string)             { z.l.Debug().Msg(msg) }
func (z *zerologLeveled) Debugf(f string, args ...any) { z.l.Debug().Msgf(f, args...) }
func (z *zerologLeveled) Info(msg string)              { z.l.Info().Msg(msg) }
func (z *zerologLeveled) Infof(f string, args ...any)  { z.l.Info().Msgf(f, args...) }
func (z *zerologLeveled) Warn(msg string)              { z.l.Warn().Msg(msg) }
func (z *zerologLeveled) Warnf(f string, args ...any)  { z.l.Warn().Msgf(f, args...) }
func (z *zerologLeveled) Error(msg string)             { z.l.Error().Msg(msg) }
func (z *zerologLeveled) Errorf(f string, args ...any) { z.l.Error().Msgf(f, args...) }
