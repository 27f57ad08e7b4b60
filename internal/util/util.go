package util

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
)

// SetupLogger configures the global zerolog logger. Pretty output is meant for
// local development only.
func SetupLogger(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Ctx returns the global logger enriched with the request id carried by ctx.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if reqID, ok := ctx.Value(constants.RequestIDKey).(string); ok && reqID != "" {
		l = l.With().Str("request_id", reqID).Logger()
	}
	return &l
}

// Session returns a logger scoped to one game session.
func Session(sessionID string) *zerolog.Logger {
	l := log.Logger.With().Str("session_id", sessionID).Logger()
	return &l
}

func LogInfo(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func LogWarn(format string, v ...any) {
	log.Warn().Msgf(format, v...)
}

func LogError(err error, format string, v ...any) {
	log.Error().Err(err).Msgf(format, v...)
}

func LogFatal(format string, v ...any) {
	log.Fatal().Msgf(format, v...)
}

func FormatUptime(d time.Duration) string {
	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())
	switch {
	case hours > 0:
		return fmt.Sprintf("%d hour%s, %d minute%s, %d second%s",
			hours, plural(hours),
			minutes, plural(minutes),
			seconds, plural(seconds))
	case minutes > 0:
		return fmt.Sprintf("%d minute%s, %d second%s",
			minutes, plural(minutes),
			seconds, plural(seconds))
	default:
		return fmt.Sprintf("%d second%s", seconds, plural(seconds))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
