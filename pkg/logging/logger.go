// Package logging provides structured logging for ratify using zerolog.
//
// Console output is used when stderr is a terminal, JSON otherwise.
//
//	log := logging.Default()
//	log.Info().Str("proposal_id", id).Msg("Proposal applied")
//
//	ctx = logging.WithProject(ctx, "acme")
//	logging.FromContext(ctx).Debug().Msg("Acquired project lock")
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu            sync.RWMutex
	defaultLogger = newDefaultLogger()

	// Nop logger for discarding output.
	Nop = zerolog.Nop()
)

func newDefaultLogger() zerolog.Logger {
	level := levelFromEnv()
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if stderrIsTerminal() && os.Getenv("LOG_FORMAT") != "json" {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// Default returns the default global logger.
func Default() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := defaultLogger
	return &l
}

// SetDefault replaces the default global logger.
func SetDefault(logger zerolog.Logger) {
	mu.Lock()
	defaultLogger = logger
	mu.Unlock()
	log.Logger = logger
}

// New creates a JSON logger writing to w at the global level.
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).Level(zerolog.GlobalLevel()).With().Timestamp().Logger()
}

// Debug starts a new debug level event on the default logger.
func Debug() *zerolog.Event { return Default().Debug() }

// Info starts a new info level event on the default logger.
func Info() *zerolog.Event { return Default().Info() }

// Warn starts a new warn level event on the default logger.
func Warn() *zerolog.Event { return Default().Warn() }

// Error starts a new error level event on the default logger.
func Error() *zerolog.Event { return Default().Error() }

// Err starts an error event carrying err.
func Err(err error) *zerolog.Event { return Default().Err(err) }

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func levelFromEnv() zerolog.Level {
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		return ParseLevel(s)
	}
	if os.Getenv("DEBUG") != "" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
