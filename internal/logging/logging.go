// Package logging configures zerolog for the process.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog and returns the root logger.
// Components derive their own loggers from it via With().
func Setup(debug bool) zerolog.Logger {
	return SetupWithWriter(debug, os.Stderr)
}

// SetupWithWriter configures zerolog writing to w.
func SetupWithWriter(debug bool, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	writer := zerolog.ConsoleWriter{Out: w}
	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
