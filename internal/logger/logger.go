// Package logger provides structured logging for the engine with
// configurable verbosity and an optional log file, on top of zerolog.
package logger

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

var (
	global  = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	logFile *os.File
)

// SetupLogging initializes the package-level logger. If verbose is true,
// debug-level messages are emitted. If logFilePath is non-empty, log
// records are written to both stderr and the given file.
func SetupLogging(verbose bool, logFilePath string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}

	if logFilePath == "" {
		global = zerolog.New(console).Level(level).With().Timestamp().Logger()
		return nil
	}

	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}
	logFile = f
	global = zerolog.New(zerolog.MultiLevelWriter(console, f)).Level(level).With().Timestamp().Logger()
	return nil
}

// Close closes the log file if one was opened. Safe to call multiple times.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func Debug(format string, args ...interface{}) {
	global.Debug().Msg(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	global.Info().Msg(fmt.Sprintf(format, args...))
}

func Warning(format string, args ...interface{}) {
	global.Warn().Msg(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	global.Error().Msg(fmt.Sprintf(format, args...))
}

// LogFileError records a per-file deletion failure with structured fields.
func LogFileError(path string, err error) {
	global.Error().Str("path", path).Err(err).Msg("failed to delete file")
}

// LogFileWarning records a skipped file with structured fields.
func LogFileWarning(path string, reason string) {
	global.Warn().Str("path", path).Str("reason", reason).Msg("skipped file")
}
