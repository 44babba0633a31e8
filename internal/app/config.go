package app

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupEnvironment loads .env and configures the global zerolog logger.
// ENV=production switches to JSON with unix timestamps; LOGLEVEL picks the level.
func SetupEnvironment() {
	envErr := godotenv.Load()

	production := os.Getenv("ENV") == "production"
	if production {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}
	log.Logger = log.Output(consoleOrStderr())

	levelStr := strings.ToLower(os.Getenv("LOGLEVEL"))
	level, known := parseLevel(levelStr, production)
	zerolog.SetGlobalLevel(level)
	if !known {
		log.Warn().Msgf("Unknown LOGLEVEL '%s', defaulting to info.", levelStr)
	}

	// reported after the logger exists
	if envErr == nil {
		log.Debug().Msg("Loaded environment variables from .env file.")
	} else {
		log.Debug().Msg("No .env file found; using process environment.")
	}
}

func parseLevel(s string, production bool) (zerolog.Level, bool) {
	switch s {
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled":
		return zerolog.Disabled, true
	case "":
		if production {
			return zerolog.WarnLevel, true
		}
		return zerolog.InfoLevel, true
	}
	return zerolog.InfoLevel, false
}

// AddLogFile tees the log to a size-rotated JSON file. The returned closer
// flushes the file on shutdown.
func AddLogFile(path string) io.Closer {
	rotating := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(consoleOrStderr(), rotating))
	log.Debug().Str("file", path).Msg("Logging to file")
	return rotating
}

func consoleOrStderr() io.Writer {
	if os.Getenv("ENV") == "production" {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// GetEnvWithDefault fetches an environment variable with a default fallback.
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
