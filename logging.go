package main

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// parseLevel maps the config.ini level names. Unknown names fall back to warn.
func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.WarnLevel
	}
}

func newLogger(out io.Writer, level zerolog.Level, isService bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	if isService {
		// the supervisor's log adds its own timestamps
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
		output.NoColor = true
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// isService checks if the process runs under a service supervisor
func isService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}
