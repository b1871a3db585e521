package logging

import (
	"io"
	"os"

	gnarkLogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

func Logger() *zerolog.Logger {
	return &log
}

// SetJSONOutput switches to newline-delimited JSON on stdout, used by the prover service.
func SetJSONOutput() {
	SetOutput(os.Stdout)
}

func SetOutput(w io.Writer) {
	log = zerolog.New(w).With().Timestamp().Logger()
	gnarkLogger.Set(log)
}

func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
